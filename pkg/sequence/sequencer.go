package sequence

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Transaction identifies one relayed request and the artifact name stem all
// of its audit records share.
type Transaction struct {
	Seq       uint64
	Day       string
	Stem      string
	StartedAt time.Time
}

// Artifact returns the slash-separated artifact name for this transaction
// with the given suffix, e.g. "2026-08-23/4242-000017-151304.218.log".
func (tx Transaction) Artifact(suffix string) string {
	return tx.Day + "/" + tx.Stem + suffix
}

// Sequencer hands out monotonically increasing transaction numbers for the
// lifetime of the process. The counter restarts at 1 on restart; artifact
// names stay collision-free because the stem also embeds the pid and
// time of day.
type Sequencer struct {
	counter atomic.Uint64
	pid     int
	now     func() time.Time
}

func New() *Sequencer {
	return &Sequencer{pid: os.Getpid(), now: time.Now}
}

// Next is safe for concurrent use; numbers are never reused, even when the
// transaction they were assigned to errors out.
func (s *Sequencer) Next() Transaction {
	seq := s.counter.Add(1)
	t := s.now().UTC()
	return Transaction{
		Seq:       seq,
		Day:       t.Format("2006-01-02"),
		Stem:      fmt.Sprintf("%d-%06d-%s", s.pid, seq, t.Format("150405.000")),
		StartedAt: t,
	}
}
