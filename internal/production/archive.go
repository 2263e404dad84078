package production

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const archiveFetchConcurrency = 4

// ErrAssetTooLarge indicates an artwork file above the configured cap.
var ErrAssetTooLarge = errors.New("production: asset exceeds size limit")

// AssetFetcher downloads artwork referenced by batch items.
type AssetFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// HTTPAssetFetcher fetches assets over HTTP(S) with a size cap.
type HTTPAssetFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPAssetFetcher builds a fetcher with its own timeout.
func NewHTTPAssetFetcher(timeout time.Duration, maxBytes int64) *HTTPAssetFetcher {
	return &HTTPAssetFetcher{Client: &http.Client{Timeout: timeout}, MaxBytes: maxBytes}
}

// Fetch downloads ref.
func (f *HTTPAssetFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("production: unsupported asset reference %q", ref)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("asset response %d", resp.StatusCode)
	}
	if f.MaxBytes <= 0 {
		return io.ReadAll(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, ErrAssetTooLarge
	}
	return data, nil
}

// ManifestAsset describes one artwork entry of an archive.
type ManifestAsset struct {
	Ref   string `json:"ref"`
	File  string `json:"file,omitempty"`
	Bytes int    `json:"bytes,omitempty"`
	Error string `json:"error,omitempty"`
}

// Manifest is written as manifest.json at the archive root.
type Manifest struct {
	Batch       Batch           `json:"batch"`
	Items       []Item          `json:"items"`
	Assets      []ManifestAsset `json:"assets"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// BuildArchive streams a zip with manifest.json and the batch's artwork to w, then records an EXPORT event.
// Artwork that cannot be fetched is listed in the manifest with its error instead of failing the export.
func (s *Service) BuildArchive(ctx context.Context, storeID, batchID, actorID string, w io.Writer) error {
	detail, err := s.GetBatch(ctx, storeID, batchID)
	if err != nil {
		return err
	}
	refs := uniqueAssetRefs(detail.Items)
	assets := make([]ManifestAsset, len(refs))
	payloads := make([][]byte, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveFetchConcurrency)
	for i, ref := range refs {
		assets[i] = ManifestAsset{Ref: ref}
		if s.assets == nil {
			assets[i].Error = "asset fetching disabled"
			continue
		}
		g.Go(func() error {
			data, err := s.assets.Fetch(gctx, ref)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				assets[i].Error = err.Error()
				return nil
			}
			payloads[i] = data
			assets[i].File = assetFileName(i, ref)
			assets[i].Bytes = len(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	manifest := Manifest{Batch: detail.Batch, Items: detail.Items, Assets: assets, GeneratedAt: s.cfg.Now()}
	mw, err := zw.Create("manifest.json")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return err
	}
	for i, asset := range assets {
		if asset.File == "" {
			continue
		}
		fw, err := zw.Create(asset.File)
		if err != nil {
			return err
		}
		if _, err := fw.Write(payloads[i]); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}

	return s.repo.InsertEvent(ctx, Event{
		BatchID: batchID,
		Type:    EventExport,
		ActorID: actorID,
		Meta:    map[string]any{"assets": len(assets)},
	})
}

func uniqueAssetRefs(items []Item) []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, item := range items {
		for _, ref := range item.AssetRef {
			ref = strings.TrimSpace(ref)
			if ref == "" {
				continue
			}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}

func assetFileName(i int, ref string) string {
	base := "asset"
	if u, err := url.Parse(ref); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			base = b
		}
	}
	return fmt.Sprintf("assets/%03d-%s", i+1, base)
}
