package train

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

const checkpointVersion = "1"

// checkpointFile is the on-disk checkpoint layout. Loss is a pointer so
// checkpoints saved without a wired loss stay distinguishable from a
// recorded loss of zero.
type checkpointFile struct {
	Version   string    `json:"version"`
	Name      string    `json:"name"`
	Iteration int       `json:"iteration"`
	Loss      *float64  `json:"loss,omitempty"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
}

// client is shared by every checkpoint upload in the process.
var client = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// checkpointSave persists the model pack. With save_best and a wired
// loss it keeps a single <name>_best.json that only improves; otherwise
// it writes timestamped history files and trims them to max_saves. The
// emitted pack carries the written path in its metadata, 1 for a write
// and 0 for a skipped save.
type checkpointSave struct {
	now func() time.Time
}

func (c *checkpointSave) Forward(ctx context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	model, err := single(call, "model")
	if err != nil {
		return nil, err
	}
	dir, err := call.String("dir")
	if err != nil {
		return nil, err
	}
	name, err := call.String("name")
	if err != nil {
		return nil, err
	}
	maxSaves, err := call.Int("max_saves")
	if err != nil {
		return nil, err
	}
	saveBest, err := call.Bool("save_best")
	if err != nil {
		return nil, err
	}
	uploadURL, err := call.String("upload_url")
	if err != nil {
		return nil, err
	}

	var lossVal *float64
	if packs := call.Inputs["loss"]; len(packs) > 0 && packs[0].Len() > 0 {
		v, err := packs[0].Value(0)
		if err != nil {
			return nil, err
		}
		lossVal = &v
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	b, err := json.Marshal(checkpointFile{
		Version:   checkpointVersion,
		Name:      name,
		Iteration: call.Iteration,
		Loss:      lossVal,
		Shape:     model.Shape(),
		Data:      bufferOf(model),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}

	logger := ctxlog.FromContext(ctx)
	path := ""
	if saveBest && lossVal != nil {
		best := filepath.Join(dir, name+"_best.json")
		if *lossVal < readLoss(best) {
			if err := os.WriteFile(best, b, 0o644); err != nil {
				return nil, fmt.Errorf("writing checkpoint: %w", err)
			}
			path = best
			logger.Info("Checkpoint improved.", "path", path, "loss", *lossVal)
		}
	} else {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.json", name, c.now().Unix()))
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return nil, fmt.Errorf("writing checkpoint: %w", err)
		}
		if err := trimHistory(dir, name, maxSaves); err != nil {
			logger.Warn("Could not trim checkpoint history.", "dir", dir, "error", err)
		}
	}

	if path != "" && uploadURL != "" {
		if err := uploadCheckpoint(ctx, uploadURL, b); err != nil {
			return nil, err
		}
	}

	call.Detail("saved_path", cty.StringVal(path))
	wrote := 0.0
	if path != "" {
		wrote = 1
	}
	out, err := pack.NewNumericArray([]float64{wrote}, []int{1}, map[string]string{"path": path})
	if err != nil {
		return nil, err
	}
	return map[string][]pack.Pack{"path": {out}}, nil
}

// readLoss returns the loss recorded in an existing checkpoint, or +Inf
// when the file is missing, unreadable or carries no loss. Any first
// save therefore counts as an improvement.
func readLoss(path string) float64 {
	b, err := os.ReadFile(path)
	if err != nil {
		return math.Inf(1)
	}
	var cf checkpointFile
	if err := json.Unmarshal(b, &cf); err != nil || cf.Loss == nil {
		return math.Inf(1)
	}
	return *cf.Loss
}

// trimHistory removes the oldest timestamped history files beyond keep.
// The best file never matches the <name>_<unix>.json pattern, so it is
// never trimmed. keep <= 0 disables trimming.
func trimHistory(dir, name string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	type stamped struct {
		file string
		at   int64
	}
	var hist []stamped
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		at, ok := historyStamp(e.Name(), name)
		if !ok {
			continue
		}
		hist = append(hist, stamped{e.Name(), at})
	}
	if len(hist) <= keep {
		return nil
	}
	sort.Slice(hist, func(i, j int) bool { return hist[i].at > hist[j].at })
	for _, old := range hist[keep:] {
		if err := os.Remove(filepath.Join(dir, old.file)); err != nil {
			return err
		}
	}
	return nil
}

// historyStamp extracts the timestamp from a history file name such as
// "model_1700000000.json".
func historyStamp(file, name string) (int64, bool) {
	rest, ok := strings.CutPrefix(file, name+"_")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return 0, false
	}
	at, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return at, true
}

func uploadCheckpoint(ctx context.Context, url string, body []byte) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Uploading checkpoint.", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("uploading checkpoint to %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading checkpoint to %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("uploading checkpoint to %s: %s", url, resp.Status)
	}
	logger.Info("Checkpoint uploaded.", "url", url)
	return nil
}

// checkpointLoad reads a checkpoint back. The path resolves from the
// load_best pair, then from the metadata of a pack arriving on the path
// pin, then from the checkpoint_path parameter.
func checkpointLoad(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	loadBest, err := call.Bool("load_best")
	if err != nil {
		return nil, err
	}
	dir, err := call.String("dir")
	if err != nil {
		return nil, err
	}
	name, err := call.String("name")
	if err != nil {
		return nil, err
	}
	fromParam, err := call.String("checkpoint_path")
	if err != nil {
		return nil, err
	}

	path := ""
	if loadBest {
		path = filepath.Join(dir, name+"_best.json")
	} else {
		if packs := call.Inputs["path"]; len(packs) > 0 {
			path = packs[0].Metadata()["path"]
		}
		if path == "" {
			path = fromParam
		}
	}
	if path == "" {
		return nil, fmt.Errorf("node %s has no checkpoint path", call.Node)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cf checkpointFile
	if err := json.Unmarshal(b, &cf); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	if cf.Version != checkpointVersion {
		return nil, fmt.Errorf("checkpoint version %q is not supported", cf.Version)
	}

	model, err := pack.NewTensor("", cf.Data, cf.Shape, map[string]string{"path": path})
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	call.Detail("loaded_path", cty.StringVal(path))

	out := map[string][]pack.Pack{
		"model":     {model},
		"iteration": {pack.NewScalar(float64(cf.Iteration))},
	}
	if cf.Loss != nil {
		out["loss"] = []pack.Pack{pack.NewScalar(*cf.Loss)}
	}
	return out, nil
}

// bufferOf copies a pack's elements into a flat buffer.
func bufferOf(p pack.Pack) []float64 {
	switch t := p.(type) {
	case *pack.TensorPack:
		return t.Data()
	case *pack.NumericArrayPack:
		return t.Data()
	}
	data := make([]float64, p.Len())
	for i := range data {
		data[i], _ = p.Value(i)
	}
	return data
}
