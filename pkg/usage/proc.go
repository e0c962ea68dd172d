package usage

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var errEmptyValue = errors.New("empty value")

type selfStat struct {
	utime    uint64
	stime    uint64
	rssBytes uint64
}

func readSelfStat(procRoot string) (selfStat, bool) {
	b, err := os.ReadFile(filepath.Join(procRoot, "self", "stat"))
	if err != nil {
		return selfStat{}, false
	}
	s := string(b)
	// The command name may contain spaces; fields start after the last ')'.
	rp := strings.LastIndexByte(s, ')')
	if rp < 0 || rp+2 > len(s) {
		return selfStat{}, false
	}
	fields := strings.Fields(s[rp+2:])
	if len(fields) < 22 {
		return selfStat{}, false
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return selfStat{}, false
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return selfStat{}, false
	}
	rssPages, err := strconv.ParseUint(fields[21], 10, 64)
	if err != nil {
		return selfStat{}, false
	}

	return selfStat{
		utime:    utime,
		stime:    stime,
		rssBytes: rssPages * uint64(os.Getpagesize()),
	}, true
}

func readTotalJiffies(procRoot string) (uint64, bool) {
	f, err := os.Open(filepath.Join(procRoot, "stat"))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		var sum uint64
		for _, p := range strings.Fields(line)[1:] {
			v, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return 0, false
			}
			sum += v
		}

		return sum, true
	}

	return 0, false
}

func readCgroupMemory(root string) (usage, limit uint64, ok bool) {
	// cgroup v2.
	if u, err := readUint(filepath.Join(root, "memory.current")); err == nil {
		lim, _ := readUint(filepath.Join(root, "memory.max"))

		return u, lim, true
	}

	// cgroup v1.
	u, err := readUint(filepath.Join(root, "memory", "memory.usage_in_bytes"))
	if err != nil {
		return 0, 0, false
	}
	lim, _ := readUint(filepath.Join(root, "memory", "memory.limit_in_bytes"))

	return u, lim, true
}

// readUint reads a single unsigned value. "max" is reported as an error.
func readUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, errEmptyValue
	}

	return strconv.ParseUint(s, 10, 64)
}
