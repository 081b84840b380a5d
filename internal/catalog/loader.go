package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdougie/vibematch/internal/models"
)

// JoinKey is the column shared by the catalog and image tables
const JoinKey = "id"

// Canonical column names
const (
	ColProductID = "product_id"
	ColCategory  = "category"
	ColColor     = "color"
	ColImageURL  = "shopify_cdn_url"
)

// legacyColumns maps canonical names to the names used by the older export format
var legacyColumns = []struct{ canonical, legacy string }{
	{ColProductID, "id"},
	{ColCategory, "product_type"},
	{ColColor, "product_collections"},
	{ColImageURL, "image_url"},
}

type table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

func (t *table) has(col string) bool {
	_, ok := t.index[col]
	return ok
}

func (t *table) value(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTable(f)
}

func parseTable(r io.Reader) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &table{index: make(map[string]int, len(header))}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		t.header = append(t.header, name)
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// merge left-joins images onto catalog on JoinKey. A catalog row matching
// several image rows is repeated once per image, in image table order.
func merge(catalog, images *table) *table {
	out := &table{index: make(map[string]int)}
	addCol := func(name string) {
		if _, ok := out.index[name]; ok {
			return
		}
		out.index[name] = len(out.header)
		out.header = append(out.header, name)
	}
	for _, name := range catalog.header {
		addCol(name)
	}
	imageCols := make([]string, 0, len(images.header))
	for _, name := range images.header {
		if name == JoinKey || catalog.has(name) {
			continue
		}
		imageCols = append(imageCols, name)
		addCol(name)
	}

	byKey := make(map[string][][]string)
	for _, row := range images.rows {
		key := images.value(row, JoinKey)
		byKey[key] = append(byKey[key], row)
	}

	for _, row := range catalog.rows {
		base := make([]string, len(out.header))
		for _, name := range catalog.header {
			base[out.index[name]] = catalog.value(row, name)
		}

		matches := byKey[catalog.value(row, JoinKey)]
		if len(matches) == 0 {
			out.rows = append(out.rows, base)
			continue
		}
		for _, img := range matches {
			joined := append([]string(nil), base...)
			for _, name := range imageCols {
				joined[out.index[name]] = images.value(img, name)
			}
			out.rows = append(out.rows, joined)
		}
	}
	return out
}

// normalize renames legacy columns for every canonical column the table lacks
func normalize(t *table) {
	for _, m := range legacyColumns {
		if t.has(m.canonical) {
			continue
		}
		i, ok := t.index[m.legacy]
		if !ok {
			continue
		}
		t.index[m.canonical] = i
	}
}

// LoadEntries reads the catalog and image tables, joins them and maps rows to
// catalog entries. Rows missing a required field keep their place but lose
// their image reference.
func LoadEntries(catalogPath, imagesPath string, logger *slog.Logger) ([]models.CatalogEntry, error) {
	catalogTable, err := readTable(catalogPath)
	if err != nil {
		return nil, models.Wrap(models.ErrCatalogLoad, "catalog", "read "+catalogPath, err)
	}
	imagesTable, err := readTable(imagesPath)
	if err != nil {
		return nil, models.Wrap(models.ErrCatalogLoad, "catalog", "read "+imagesPath, err)
	}

	return joinEntries(catalogTable, imagesTable, logger)
}

func joinEntries(catalogTable, imagesTable *table, logger *slog.Logger) ([]models.CatalogEntry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !catalogTable.has(JoinKey) {
		return nil, models.Wrap(models.ErrCatalogLoad, "catalog", fmt.Sprintf("catalog table has no %q column", JoinKey), nil)
	}
	if !imagesTable.has(JoinKey) {
		return nil, models.Wrap(models.ErrCatalogLoad, "catalog", fmt.Sprintf("image table has no %q column", JoinKey), nil)
	}

	merged := merge(catalogTable, imagesTable)
	normalize(merged)

	entries := make([]models.CatalogEntry, 0, len(merged.rows))
	missing := 0
	for _, row := range merged.rows {
		e := models.CatalogEntry{
			ProductID: merged.value(row, ColProductID),
			Category:  merged.value(row, ColCategory),
			Color:     merged.value(row, ColColor),
			ImageURL:  merged.value(row, ColImageURL),
		}
		if e.ProductID == "" || e.Category == "" || e.Color == "" || e.ImageURL == "" {
			e.ImageURL = ""
			e.MissingImage = true
			missing++
		}
		entries = append(entries, e)
	}

	if missing > 0 {
		logger.Warn("catalog rows missing required fields", "rows", missing, "total", len(entries))
	}
	return entries, nil
}

// Categories returns the distinct categories in first-seen order
func Categories(entries []models.CatalogEntry) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range entries {
		if e.Category == "" {
			continue
		}
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}
