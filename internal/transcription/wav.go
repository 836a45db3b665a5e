package transcription

import (
	"encoding/binary"
	"io"
	"os"
)

// wavDuration reads the RIFF header of a PCM WAV file and returns its length
// in seconds. Zero means the header could not be understood.
func wavDuration(path string) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	var header [12]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return 0
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0
	}

	var byteRate uint32
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			return 0
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		switch id {
		case "fmt ":
			if size < 16 {
				return 0
			}
			fmtChunk := make([]byte, size)
			if _, err := io.ReadFull(f, fmtChunk); err != nil {
				return 0
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			if size%2 == 1 {
				_, _ = f.Seek(1, io.SeekCurrent)
			}
		case "data":
			if byteRate == 0 {
				return 0
			}
			return float64(size) / float64(byteRate)
		default:
			skip := int64(size) + int64(size%2)
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return 0
			}
		}
	}
}
