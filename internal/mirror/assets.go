package mirror

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"strings"
	"time"
)

const defaultAssetExtension = ".png"

// AssetDownloader fetches a remote binary by its source locator.
type AssetDownloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// AssetManager downloads and deduplicates the binary assets rendered
// documents reference, and garbage-collects the ones nothing
// references anymore. Dedup runs on the raw source locator, not the
// content hash: the same locator never downloads twice while its local
// file survives.
type AssetManager struct {
	downloader  AssetDownloader
	fs          FileStore
	assetFolder string
	records     map[string]AssetRecord
	logger      Logger
	now         func() time.Time
}

func NewAssetManager(downloader AssetDownloader, fs FileStore, assetFolder string, records map[string]AssetRecord, logger Logger) *AssetManager {
	if logger == nil {
		logger = nopLogger{}
	}
	if records == nil {
		records = map[string]AssetRecord{}
	}
	return &AssetManager{
		downloader:  downloader,
		fs:          fs,
		assetFolder: strings.Trim(strings.TrimSpace(assetFolder), "/"),
		records:     records,
		logger:      logger,
		now:         time.Now,
	}
}

// Materialize returns the local path for the asset at locator,
// downloading it on first sight. A recorded path whose file has
// vanished is treated as stale: the record is dropped and the asset is
// fetched again. The boolean is false when the asset could not be
// made available locally.
func (m *AssetManager) Materialize(ctx context.Context, locator, caption string) (string, bool) {
	if m == nil || m.downloader == nil || m.fs == nil || strings.TrimSpace(locator) == "" {
		return "", false
	}
	if rec, ok := m.records[locator]; ok {
		if m.fs.Exists(rec.LocalPath) {
			return rec.LocalPath, true
		}
		m.logger.Printf("assets: recorded file %s vanished; re-downloading %s", rec.LocalPath, locator)
		delete(m.records, locator)
	}

	data, err := m.downloader.Download(ctx, locator)
	if err != nil {
		m.logger.Printf("assets: download failed for %s: %v", locator, err)
		return "", false
	}
	localPath := m.assetPath(locator, caption)
	if err := m.fs.WriteBinary(localPath, data); err != nil {
		m.logger.Printf("assets: write failed for %s: %v", localPath, err)
		return "", false
	}
	m.records[locator] = AssetRecord{
		SourceID:    locator,
		LocalPath:   localPath,
		ContentHash: fingerprint(data),
	}
	return localPath, true
}

func (m *AssetManager) assetPath(locator, caption string) string {
	base := SanitizeTitle(caption)
	if base == "" {
		base = "image"
	}
	// The locator digest keeps names unique even when two assets share
	// a caption and land in the same millisecond.
	digest := fnv.New32a()
	_, _ = digest.Write([]byte(locator))
	name := fmt.Sprintf("%s-%d-%08x%s", base, m.now().UnixMilli(), digest.Sum32(), extensionFromLocator(locator))
	if m.assetFolder == "" {
		return name
	}
	return m.assetFolder + "/" + name
}

// CollectOrphans scans every synced document for each asset's local
// path and removes assets no document mentions. This is a full textual
// scan over documents times assets; correctness over speed.
func (m *AssetManager) CollectOrphans(pages map[string]SyncRecord) int {
	if m == nil || m.fs == nil || len(m.records) == 0 {
		return 0
	}
	var documents []string
	for _, rec := range pages {
		if !strings.HasSuffix(rec.LocalPath, DocumentExtension) {
			continue
		}
		text, err := m.fs.ReadText(rec.LocalPath)
		if err != nil {
			continue
		}
		documents = append(documents, text)
	}

	removed := 0
	for locator, rec := range m.records {
		referenced := false
		for _, text := range documents {
			if strings.Contains(text, rec.LocalPath) {
				referenced = true
				break
			}
		}
		if referenced {
			continue
		}
		if err := m.fs.Delete(rec.LocalPath); err != nil {
			m.logger.Printf("assets: delete failed for orphan %s: %v", rec.LocalPath, err)
			continue
		}
		delete(m.records, locator)
		removed++
	}
	return removed
}

func extensionFromLocator(locator string) string {
	parsed, err := url.Parse(locator)
	if err != nil {
		return defaultAssetExtension
	}
	ext := path.Ext(parsed.Path)
	if ext == "" || len(ext) > 8 {
		return defaultAssetExtension
	}
	return ext
}

// fingerprint is a lightweight equality-of-origin check: byte length
// plus the leading bytes. Not a cryptographic digest.
func fingerprint(data []byte) string {
	head := data
	if len(head) > 8 {
		head = head[:8]
	}
	return fmt.Sprintf("%d:%x", len(data), head)
}
