package server

import (
	"io"

	"golang.org/x/text/transform"
)

// toCRLF converts bare LF to CRLF for TYPE A downloads. An LF that already
// follows a CR is left alone.
type toCRLF struct {
	prevCR bool
}

func (t *toCRLF) Reset() { t.prevCR = false }

func (t *toCRLF) Transform(dst, src []byte, _ bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '\n' && !t.prevCR {
			if nDst+2 > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = '\r'
			dst[nDst+1] = '\n'
			nDst += 2
		} else {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
		}
		t.prevCR = c == '\r'
		nSrc++
	}
	return nDst, nSrc, nil
}

// fromCRLF converts CRLF to LF for TYPE A uploads. A CR not followed by LF
// is kept.
type fromCRLF struct{ transform.NopResetter }

func (fromCRLF) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '\r' {
			if nSrc+1 == len(src) && !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			if nSrc+1 < len(src) && src[nSrc+1] == '\n' {
				nSrc++
				continue
			}
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

// asciiDownload wraps a file being sent in TYPE A.
func asciiDownload(r io.Reader) io.Reader {
	return transform.NewReader(r, &toCRLF{})
}

// asciiUpload wraps a data connection being stored in TYPE A.
func asciiUpload(r io.Reader) io.Reader {
	return transform.NewReader(r, fromCRLF{})
}
