package lyrics

import (
	"bufio"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// linearScanLimit 小于等于该长度的歌词直接线性查找
const linearScanLimit = 8

var lrcLine = regexp.MustCompile(`^\[(\d+):(\d{1,2}(?:\.\d+)?)\](.*)$`)

// Line 一行带时间戳的歌词
type Line struct {
	Time float64 // 秒
	Text string
}

// Index 按源顺序排列的歌词，构造后不可变
type Index struct {
	lines []Line
}

// Parse 解析 [mm:ss.xx]text 格式的歌词，无法识别的行直接丢弃。
// 解析不出任何一行时返回空 Index，"没有歌词" 不是错误。
func Parse(raw string) Index {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result []Line
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		match := lrcLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		minutes, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		seconds, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		result = append(result, Line{
			Time: float64(minutes)*60 + seconds,
			Text: strings.TrimSpace(match[3]),
		})
	}
	return Index{lines: result}
}

// NewIndex 直接由已排序的行构造 Index
func NewIndex(lines []Line) Index {
	return Index{lines: append([]Line(nil), lines...)}
}

func (x Index) Len() int { return len(x.lines) }

func (x Index) Empty() bool { return len(x.lines) == 0 }

func (x Index) Line(i int) Line { return x.lines[i] }

// Lines 返回所有歌词行的副本
func (x Index) Lines() []Line {
	return append([]Line(nil), x.lines...)
}

// Text 返回第 i 行的文本，i 越界时返回空串
func (x Index) Text(i int) string {
	if i < 0 || i >= len(x.lines) {
		return ""
	}
	return x.lines[i].Text
}

// ActiveLine 返回最后一个 Time <= t 的行号，t 早于第一行或没有歌词时返回 -1。
// 时间相同的多行取靠后的一行。
func (x Index) ActiveLine(t float64) int {
	n := len(x.lines)
	if n == 0 || t < x.lines[0].Time {
		return -1
	}

	if n <= linearScanLimit {
		result := -1
		for i, line := range x.lines {
			if line.Time > t {
				break
			}
			result = i
		}
		return result
	}

	// 第一个 Time > t 的位置的前一行
	return sort.Search(n, func(i int) bool { return x.lines[i].Time > t }) - 1
}
