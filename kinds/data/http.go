package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// client is shared by every http_source node in the process.
var client = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// downloads caches parsed payloads per URL. Packs are immutable, so cache
// hits hand out the same instance; singleflight collapses concurrent
// first fetches of one URL into a single request.
var downloads = struct {
	mu    sync.Mutex
	group singleflight.Group
	byURL map[string]*pack.TensorPack
}{byURL: make(map[string]*pack.TensorPack)}

func httpSource(ctx context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	url, err := call.String("url")
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("node %s has no url to fetch", call.Node)
	}
	p, err := fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string][]pack.Pack{"out": {p}}, nil
}

func fetch(ctx context.Context, url string) (*pack.TensorPack, error) {
	downloads.mu.Lock()
	if p, ok := downloads.byURL[url]; ok {
		downloads.mu.Unlock()
		return p, nil
	}
	downloads.mu.Unlock()

	v, err, _ := downloads.group.Do(url, func() (any, error) {
		p, err := download(ctx, url)
		if err != nil {
			return nil, err
		}
		downloads.mu.Lock()
		downloads.byURL[url] = p
		downloads.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pack.TensorPack), nil
}

func download(ctx context.Context, url string) (*pack.TensorPack, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Downloading dataset.", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetching %s: %s", url, resp.Status)
	}

	data, shape, err := parseCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing payload of %s: %w", url, err)
	}
	logger.Info("Dataset downloaded.", "url", url, "shape", shape)
	return pack.NewTensor("", data, shape, map[string]string{"source": url})
}

// parseCSV reads a numeric CSV payload into a flat buffer. Every row must
// carry the same number of columns; a single row parses as a vector.
func parseCSV(r io.Reader) ([]float64, []int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var data []float64
	rows, cols := 0, 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		for _, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: %q is not numeric", rows+1, field)
			}
			data = append(data, v)
		}
		cols = len(record)
		rows++
	}
	if rows == 0 {
		return nil, nil, fmt.Errorf("payload holds no rows")
	}
	if rows == 1 {
		return data, []int{cols}, nil
	}
	return data, []int{rows, cols}, nil
}
