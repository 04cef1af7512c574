package apreader

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/gogglesmm/gap-core/pkg/apsource"
	"github.com/gogglesmm/gap-core/pkg/appacket"
)

// playlistReader parses M3U/PLS/XSPF text formats into a flat list of
// entries, surfaced once via Process -> ReadRedirect per spec §4.2's
// "reader surfaced a playlist" branch.
type playlistReader struct {
	format  Format
	entries []string
	emitted bool
}

func newPlaylistReader(format Format, src apsource.Source) (Reader, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("apreader: read playlist: %w", err)
	}
	var entries []string
	switch format {
	case FormatM3U:
		entries = parseM3U(data)
	case FormatPLS:
		entries = parsePLS(data)
	case FormatXSPF:
		entries, err = parseXSPF(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: playlist format %v", ErrUnsupportedFormat, format)
	}
	return &playlistReader{format: format, entries: entries}, nil
}

func parseM3U(data []byte) []string {
	var entries []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	return entries
}

func parsePLS(data []byte) []string {
	var entries []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		const prefix = "File"
		idx := strings.IndexByte(line, '=')
		if idx < 0 || !strings.HasPrefix(line, prefix) {
			continue
		}
		entries = append(entries, strings.TrimSpace(line[idx+1:]))
	}
	return entries
}

type xspfPlaylist struct {
	TrackList struct {
		Track []struct {
			Location string `xml:"location"`
		} `xml:"track"`
	} `xml:"trackList"`
}

func parseXSPF(data []byte) ([]string, error) {
	var doc xspfPlaylist
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("apreader: parse xspf: %w", err)
	}
	entries := make([]string, 0, len(doc.TrackList.Track))
	for _, t := range doc.TrackList.Track {
		if t.Location != "" {
			entries = append(entries, t.Location)
		}
	}
	return entries, nil
}

func (r *playlistReader) Format() Format      { return r.format }
func (r *playlistReader) CanSeek() bool       { return false }
func (r *playlistReader) Seek(int64) error    { return fmt.Errorf("apreader: playlist is not seekable") }
func (r *playlistReader) Redirect() []string  { return r.entries }
func (r *playlistReader) Close() error        { return nil }

func (r *playlistReader) Process(pkt *appacket.Packet) (Result, error) {
	if r.emitted {
		return ReadDone, nil
	}
	r.emitted = true
	return ReadRedirect, nil
}
