package executor

import "syscall"

// terminateSignal is the signal sent to abort a running backend subprocess.
var terminateSignal = syscall.SIGTERM
