package onewire

import "testing"

func TestCRC8RoundTrip(t *testing.T) {
	payload := []byte{0x10, 0x4a, 0x46, 0x37, 0x00, 0x00, 0x00}
	crc := CRC8(payload)
	buf := append(append([]byte{}, payload...), crc)
	if !CheckCRC(buf) {
		t.Fatalf("CheckCRC false for self-computed CRC")
	}
	buf[0] ^= 0x01
	if CheckCRC(buf) {
		t.Fatalf("CheckCRC true after corrupting a payload byte")
	}
}

func TestCheckCRCEmpty(t *testing.T) {
	if CheckCRC(nil) {
		t.Fatalf("CheckCRC true for empty buffer")
	}
}
