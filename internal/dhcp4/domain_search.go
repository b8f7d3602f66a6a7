package dhcp4

import (
	"fmt"
	"strings"
)

// encodeDomainSearch serializes names as option 119's value: each name is a
// sequence of length-prefixed labels terminated by a zero byte, written back
// to back with no pointer compression between names. Compression is a
// decoder-side courtesy for interoperating with clients/relays that use it;
// this implementation never needs to produce it since every name is written
// in full.
func encodeDomainSearch(names []string) []byte {
	var buf []byte
	for _, name := range names {
		for _, label := range strings.Split(strings.Trim(name, "."), ".") {
			buf = append(buf, byte(len(label)))
			buf = append(buf, label...)
		}
		buf = append(buf, 0)
	}
	return buf
}

// decodeDomainSearch parses option 119's value, following RFC 1035 §4.1.4
// pointer compression: a label length byte with its top two bits set is
// instead a 14-bit offset back into buf to resume reading labels from.
func decodeDomainSearch(buf []byte) ([]string, error) {
	var names []string

	pos := 0
	for pos < len(buf) {
		name, next, err := readDomainName(buf, pos)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		pos = next
	}

	return names, nil
}

// readDomainName reads one name starting at offset in buf, returning the
// name and the offset in buf immediately after its terminator (a pointer
// counts as two bytes; labels reached only through a pointer do not advance
// the caller's cursor further than the pointer itself).
func readDomainName(buf []byte, offset int) (string, int, error) {
	var labels []string

	pos := offset
	cursorAfter := -1
	visited := 0

	for {
		if pos >= len(buf) {
			return "", 0, fmt.Errorf("dhcp4: domain search name runs past end of buffer")
		}

		length := buf[pos]
		switch {
		case length == 0:
			if cursorAfter == -1 {
				cursorAfter = pos + 1
			}
			return strings.Join(labels, ".") + ".", cursorAfter, nil

		case length&0xC0 == 0xC0:
			if pos+2 > len(buf) {
				return "", 0, fmt.Errorf("dhcp4: truncated domain search compression pointer")
			}
			if cursorAfter == -1 {
				cursorAfter = pos + 2
			}
			ptr := int(length&0x3F)<<8 | int(buf[pos+1])
			visited++
			if visited > len(buf) {
				return "", 0, fmt.Errorf("dhcp4: domain search compression pointer cycle")
			}
			pos = ptr

		case length&0xC0 == 0:
			end := pos + 1 + int(length)
			if end > len(buf) {
				return "", 0, fmt.Errorf("dhcp4: domain search label runs past end of buffer")
			}
			labels = append(labels, string(buf[pos+1:end]))
			pos = end

		default:
			return "", 0, fmt.Errorf("dhcp4: illegal domain search label length byte %#x", length)
		}
	}
}
