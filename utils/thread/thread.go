package thread

/*
   #define _GNU_SOURCE
   #include <sched.h>
   #include <pthread.h>

   int set_cpu_affinity(int core_id) {
       cpu_set_t cpuset;
       CPU_ZERO(&cpuset);
       CPU_SET(core_id, &cpuset);
       return pthread_setaffinity_np(pthread_self(), sizeof(cpu_set_t), &cpuset);
   }
*/
import "C"

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SetCPUAffinity binds the calling OS thread to coreID.
func SetCPUAffinity(coreID int) error {
	if rc := C.set_cpu_affinity(C.int(coreID)); rc != 0 {
		return errors.Wrapf(unix.Errno(rc), "Can not pin thread to core %d", coreID)
	}
	return nil
}

// Pin locks the calling goroutine to its OS thread and binds that thread to
// core. Negative cores do nothing.
func Pin(core int) error {
	if core < 0 {
		return nil
	}
	if core >= runtime.NumCPU() {
		return errors.Errorf("core %d out of range, %d cpus", core, runtime.NumCPU())
	}
	runtime.LockOSThread()
	return SetCPUAffinity(core)
}
