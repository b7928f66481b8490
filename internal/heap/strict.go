//go:build memforge_strict

package heap

// strict builds panic on invalid pointers and poison freed payloads.
const strict = true

const poisonByte = 0xDD

func poison(b *blockHeader) {
	p := b.bytes()
	for i := range p {
		p[i] = poisonByte
	}
}
