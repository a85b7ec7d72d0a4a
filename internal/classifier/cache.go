package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// Prometheus-метрики кэша классификации.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_classifier_cache_hits_total",
		Help: "Общее количество попаданий в кэш классификации.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_classifier_cache_misses_total",
		Help: "Общее количество промахов кэша классификации.",
	})
)

// cachedResult: закэшированный ответ классификатора.
type cachedResult struct {
	candidates []model.CleanupCandidate
	summary    string
}

// Cached: декоратор Classifier с LRU-кэшем по отпечатку набора файлов.
// Повторное сканирование неизменившегося хранилища не вызывает классификатор.
// Ошибки не кэшируются.
type Cached struct {
	next   audit.Classifier
	cache  *expirable.LRU[string, cachedResult]
	logger *slog.Logger
}

// NewCached создаёт кэширующий классификатор.
// size задаёт максимальное количество наборов, ttl время жизни записи.
func NewCached(next audit.Classifier, size int, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  expirable.NewLRU[string, cachedResult](size, nil, ttl),
		logger: logger.With(slog.String("component", "classifier_cache")),
	}
}

// Classify возвращает ответ из кэша или обращается к классификатору.
func (c *Cached) Classify(ctx context.Context, files []model.FileRecord) ([]model.CleanupCandidate, string, error) {
	key := Fingerprint(files)
	if hit, ok := c.cache.Get(key); ok {
		cacheHitsTotal.Inc()
		c.logger.Debug("Ответ классификатора из кэша", slog.Int("files", len(files)))
		return cloneCandidates(hit.candidates), hit.summary, nil
	}
	cacheMissesTotal.Inc()

	cands, summary, err := c.next.Classify(ctx, files)
	if err != nil {
		return nil, "", err
	}
	c.cache.Add(key, cachedResult{candidates: cloneCandidates(cands), summary: summary})
	return cands, summary, nil
}

// Purge сбрасывает кэш (например, после смены модели в настройках).
func (c *Cached) Purge() {
	c.cache.Purge()
}

// Len возвращает количество закэшированных наборов.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Fingerprint: SHA-256 от отсортированных id|modifiedAt|size|name|mime.
// Порядок файлов не влияет на отпечаток.
func Fingerprint(files []model.FileRecord) string {
	lines := make([]string, 0, len(files))
	for i := range files {
		f := &files[i]
		size := "?"
		if f.SizeBytes != nil {
			size = strconv.FormatInt(*f.SizeBytes, 10)
		}
		lines = append(lines, f.ID+"|"+f.ModifiedAt.UTC().Format(time.RFC3339Nano)+"|"+size+"|"+f.Name+"|"+f.MimeType)
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneCandidates(in []model.CleanupCandidate) []model.CleanupCandidate {
	if in == nil {
		return nil
	}
	out := make([]model.CleanupCandidate, len(in))
	copy(out, in)
	return out
}
