// Package searchexec shells out to the system grep binary to answer
// Search requests: line-matching itself stays out of the IPC core, which
// just needs a real delegate to hand text queries to.
package searchexec

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/atom-ide/atomd/internal/wire"
)

// defaultMaxResults applies when the caller leaves MaxResults unset (0).
const defaultMaxResults = 1000

// Search runs grep under root, honoring ctx cancellation: exec.CommandContext
// kills the child process the instant ctx is done, which is what makes this
// call cancel-safe.
func Search(ctx context.Context, root, query string, opts wire.SearchOptions) ([]wire.SearchResult, error) {
	if opts.MaxResults == 0 {
		opts.MaxResults = defaultMaxResults
	}
	args := []string{"-r", "-n", "-I"}
	if !opts.CaseSensitive {
		args = append(args, "-i")
	}
	if opts.WholeWord {
		args = append(args, "-w")
	}
	if !opts.Regex {
		args = append(args, "-F")
	}
	if opts.IncludePattern != "" {
		args = append(args, "--include="+opts.IncludePattern)
	}
	if opts.ExcludePattern != "" {
		args = append(args, "--exclude="+opts.ExcludePattern)
	}
	args = append(args, "--", query, ".")

	cmd := exec.CommandContext(ctx, "grep", args...)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		// grep exits 1 when nothing matches; that is not a failure here.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}

	var results []wire.SearchResult
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		if opts.MaxResults > 0 && uint32(len(results)) >= opts.MaxResults {
			break
		}
		r, ok := parseGrepLine(scanner.Text(), query)
		if ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// parseGrepLine splits "path:lineno:text" as produced by `grep -rn`.
func parseGrepLine(line, query string) (wire.SearchResult, bool) {
	first := strings.IndexByte(line, ':')
	if first < 0 {
		return wire.SearchResult{}, false
	}
	second := strings.IndexByte(line[first+1:], ':')
	if second < 0 {
		return wire.SearchResult{}, false
	}
	second += first + 1

	path := line[:first]
	lineNoStr := line[first+1 : second]
	text := line[second+1:]

	lineNo, err := strconv.Atoi(lineNoStr)
	if err != nil {
		return wire.SearchResult{}, false
	}

	column := uint32(0)
	if idx := strings.Index(text, query); idx >= 0 {
		column = uint32(idx)
	}

	return wire.SearchResult{
		Path:       path,
		LineNumber: uint32(lineNo),
		Column:     column,
		LineText:   text,
		MatchText:  query,
	}, true
}
