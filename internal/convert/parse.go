package convert

import (
	"regexp"
	"strconv"
)

// progressParser extracts a completion percentage from one line of
// merged process output. Implementations may carry state across lines.
type progressParser interface {
	Parse(line string) (int, bool)
}

var synthesisProgressRe = regexp.MustCompile(`Progress:\s*(\d+)%`)

// synthesisParser reads the percentage ticks the synthesis tool
// prints to its output.
type synthesisParser struct{}

func (p *synthesisParser) Parse(line string) (int, bool) {
	m := synthesisProgressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return pct, true
}

var (
	ffmpegDurationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+\.\d+)`)
	ffmpegTimeRe     = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.\d+)`)
)

// ffmpegParser derives a percentage from the encoder's position
// reports. The total comes from the Duration header printed before
// encoding starts; position comes from the recurring time= samples.
// The value is capped below 100 because the final sample rarely lands
// exactly on the total.
type ffmpegParser struct {
	totalSeconds float64
}

func (p *ffmpegParser) Parse(line string) (int, bool) {
	if m := ffmpegDurationRe.FindStringSubmatch(line); m != nil {
		p.totalSeconds = clockToSeconds(m[1], m[2], m[3])
		return 0, false
	}

	if p.totalSeconds <= 0 {
		return 0, false
	}

	m := ffmpegTimeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	pos := clockToSeconds(m[1], m[2], m[3])
	pct := int(pos / p.totalSeconds * 100)
	if pct > 99 {
		pct = 99
	}
	return pct, true
}

func clockToSeconds(h, m, s string) float64 {
	hours, _ := strconv.ParseFloat(h, 64)
	minutes, _ := strconv.ParseFloat(m, 64)
	seconds, _ := strconv.ParseFloat(s, 64)
	return hours*3600 + minutes*60 + seconds
}
