package bot

import (
	"bufio"
	"os"
)

// TailLastNLines returns up to n trailing lines of the file at path, oldest first.
func TailLastNLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	total := 0
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	for s.Scan() {
		ring[total%n] = s.Text()
		total++
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	if total <= n {
		return ring[:total], nil
	}
	start := total % n
	return append(ring[start:], ring[:start]...), nil
}
