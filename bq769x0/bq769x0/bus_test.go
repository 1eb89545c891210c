package bq769x0

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/physic"
)

type regWrite struct {
	register byte
	data     byte
}

/**
fakeBus emulates the chip's register file for tests. Reads return
consecutive registers starting at the addressed one, with CRC bytes
interleaved when crc is set. Writes store the data byte, except for
SYS_STAT which follows the chip's write-1-to-clear rule. latched marks
fault bits that re-assert immediately because the underlying condition
persists.
*/
type fakeBus struct {
	regs         map[byte]byte
	crc          bool
	latched      byte
	corruptReads int
	txCount      int
	writes       []regWrite
	frames       [][]byte
	dropWrites   map[byte]bool
	err          error
}

func newFakeBus(crc bool) *fakeBus {
	return &fakeBus{regs: map[byte]byte{}, crc: crc}
}

func (f *fakeBus) String() string { return "fake" }

func (f *fakeBus) SetSpeed(freq physic.Frequency) error { return nil }

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	f.txCount++
	if f.err != nil {
		return f.err
	}
	if len(r) == 0 {
		frame := append([]byte(nil), w...)
		f.frames = append(f.frames, frame)
		f.writes = append(f.writes, regWrite{w[0], w[1]})
		if f.dropWrites[w[0]] {
			return nil
		}
		if w[0] == SYS_STAT {
			f.regs[SYS_STAT] &^= w[1]
			f.regs[SYS_STAT] |= f.latched
		} else {
			f.regs[w[0]] = w[1]
		}
		return nil
	}
	register := w[0]
	if !f.crc {
		for i := range r {
			r[i] = f.regs[register+byte(i)]
		}
		return nil
	}
	if len(r)%2 != 0 {
		return fmt.Errorf("fake: crc read of odd length %d", len(r))
	}
	for i := 0; i < len(r); i += 2 {
		data := f.regs[register+byte(i/2)]
		crc := crc8ccitt([]byte{byte(addr<<1) | 1, data})
		if f.corruptReads > 0 {
			crc ^= 0xFF
			f.corruptReads--
		}
		r[i] = data
		r[i+1] = crc
	}
	return nil
}

/**
setPair stores a 14 bit ADC value into a high/low register pair.
*/
func (f *fakeBus) setPair(register byte, value uint16) {
	f.regs[register] = byte(value >> 8)
	f.regs[register+1] = byte(value)
}

/**
statWrites counts SYS_STAT writes carrying exactly the given bits.
*/
func (f *fakeBus) statWrites(bits byte) int {
	n := 0
	for _, w := range f.writes {
		if w.register == SYS_STAT && w.data == bits {
			n++
		}
	}
	return n
}

/**
fakeClock is a manually stepped time source for the injected clock.
*/
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
