package correlate

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mpataki/docforge/internal/models"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true}

// AssetDirectory is the pool of images a run produced.
type AssetDirectory struct {
	assets []*models.Asset
}

// NewAssetDirectory wraps in-memory assets, sorted by filename.
func NewAssetDirectory(assets ...models.Asset) *AssetDirectory {
	d := &AssetDirectory{}
	for i := range assets {
		a := assets[i]
		d.assets = append(d.assets, &a)
	}
	d.sort()
	return d
}

// LoadAssets reads every image file directly inside dirs. Missing
// directories are skipped.
func LoadAssets(dirs ...string) (*AssetDirectory, error) {
	d := &AssetDirectory{}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read asset directory: %w", err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || !imageExts[ext] {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to read asset %s: %w", e.Name(), err)
			}
			d.assets = append(d.assets, &models.Asset{
				Filename:    e.Name(),
				Payload:     data,
				ContentType: contentType(ext, data),
			})
		}
	}
	d.sort()
	return d, nil
}

func (d *AssetDirectory) sort() {
	sort.SliceStable(d.assets, func(i, j int) bool {
		return d.assets[i].Filename < d.assets[j].Filename
	})
}

func (d *AssetDirectory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.assets)
}

func contentType(ext string, data []byte) string {
	if ct := mime.TypeByExtension(ext); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return http.DetectContentType(data)
}

// pool tracks which assets are still unclaimed in one correlation pass.
type pool struct {
	free []*models.Asset
}

func newPool(d *AssetDirectory) *pool {
	p := &pool{}
	if d != nil {
		p.free = append(p.free, d.assets...)
	}
	return p
}

// claim removes the first asset accepted by match from the pool.
func (p *pool) claim(match func(*models.Asset) bool) *models.Asset {
	for i, a := range p.free {
		if match(a) {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return a
		}
	}
	return nil
}
