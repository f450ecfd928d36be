package imagescan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// findArgs builds the find(1) arguments for one directory level, files
// whose status changed within the window. BSD find takes -ctime in seconds;
// GNU find only has minute granularity through -cmin.
func findArgs(goos, dir, ext string, within time.Duration) []string {
	args := []string{dir, "-name", "*." + strings.TrimPrefix(ext, ".")}
	if goos == "darwin" || strings.HasSuffix(goos, "bsd") {
		args = append(args, "-depth", "1", "-type", "f")
		if within > 0 {
			args = append(args, "-ctime", fmt.Sprintf("-%ds", int64(within.Seconds())))
		}
		return args
	}
	args = append(args, "-maxdepth", "1", "-type", "f")
	if within > 0 {
		minutes := int64(math.Ceil(within.Minutes()))
		args = append(args, "-cmin", "-"+strconv.FormatInt(minutes, 10))
	}
	return args
}

// LatestByFind selects the newest image with `find | sort -r | head -n 1`.
// sort -r orders by name, which matches creation order only for outputs
// named with an increasing counter (grid-0034.png). Prefer Latest.
func LatestByFind(ctx context.Context, dir, ext string, within time.Duration) (string, error) {
	find := exec.CommandContext(ctx, "find", findArgs(runtime.GOOS, dir, ext, within)...)
	find.Dir = dir
	sort := exec.CommandContext(ctx, "sort", "-r")
	head := exec.CommandContext(ctx, "head", "-n", "1")

	findOut, err := find.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("pipe find: %w", err)
	}
	sort.Stdin = findOut
	sortOut, err := sort.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("pipe sort: %w", err)
	}
	head.Stdin = sortOut

	var out bytes.Buffer
	head.Stdout = &out

	if err := find.Start(); err != nil {
		return "", fmt.Errorf("start find: %w", err)
	}
	if err := sort.Start(); err != nil {
		_ = find.Wait()
		return "", fmt.Errorf("start sort: %w", err)
	}
	if err := head.Start(); err != nil {
		_ = find.Wait()
		_ = sort.Wait()
		return "", fmt.Errorf("start head: %w", err)
	}

	// sort only writes once find has closed its output.
	if err := find.Wait(); err != nil {
		_ = sort.Wait()
		_ = head.Wait()
		return "", fmt.Errorf("find: %w", err)
	}
	// head exits after one line, so sort may die of SIGPIPE on long listings.
	if err := sort.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			_ = head.Wait()
			return "", fmt.Errorf("sort: %w", err)
		}
	}
	if err := head.Wait(); err != nil {
		return "", fmt.Errorf("head: %w", err)
	}

	return trimFindOutput(out.String(), dir), nil
}

// trimFindOutput turns "/dir/grid-0034.png\n" into "grid-0034.png".
func trimFindOutput(out, dir string) string {
	out = strings.Replace(out, strings.TrimSuffix(dir, "/")+"/", "", 1)
	return strings.TrimRight(out, "\r\n")
}
