package session

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

var (
	bootEpoch  = time.Now().Unix()
	xidCounter uint64
)

// NewXID mints a transaction id for a new request chain. Servers never mint;
// they adopt the client's XID from the inbound envelope.
func NewXID() string {
	return fmt.Sprintf("%d%d%d", bootEpoch, os.Getpid(), atomic.AddUint64(&xidCounter, 1))
}
