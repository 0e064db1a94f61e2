package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"viewrollup/internal/models"
	"viewrollup/internal/views"
)

const (
	insertBatchSize = 500
	defaultDays     = 90
)

var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/blog", "/blog/article-1", "/blog/article-2"},
	{"/", "/signup"},
	{"/login", "/dashboard", "/settings"},
	{"/blog/article-1", "/about", "/pricing", "/signup"},
}

// Seeder generates realistic view history for local runs of the jobs
type Seeder struct {
	DB         *gorm.DB
	Logger     *slog.Logger
	EventCount int
	InternalIP string
	Days       int

	rng *rand.Rand
	now func() time.Time
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB, logger *slog.Logger, eventCount int, internalIP string) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DB:         db,
		Logger:     logger,
		EventCount: eventCount,
		InternalIP: internalIP,
		Days:       defaultDays,
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:        time.Now,
	}
}

// WithSeed makes the generated history reproducible.
func (s *Seeder) WithSeed(seed uint64) *Seeder {
	s.rng = rand.New(rand.NewPCG(seed, seed))
	return s
}

// Run inserts EventCount view events spread over the last Days days,
// walking visitors through page journeys. About one visitor in ten is
// internal traffic. Returns the number of events written.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	start := time.Now()
	if s.Days <= 0 {
		s.Days = defaultDays
	}
	s.Logger.Info("Seeding view events...", slog.Int("eventCount", s.EventCount), slog.Int("days", s.Days))

	ipPool := s.visitorIPs(max(s.EventCount/5, 1))
	// visits start at least an hour back so journeys never end in the future
	window := time.Duration(s.Days)*24*time.Hour - time.Hour

	batch := make([]views.ViewEvent, 0, insertBatchSize)
	written := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := models.PerformWrite(s.Logger, s.DB.WithContext(ctx), func(tx *gorm.DB) error {
			return tx.Create(&batch).Error
		})
		if err != nil {
			return fmt.Errorf("failed to insert seed batch: %w", err)
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	for written+len(batch) < s.EventCount {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		journey := journeyTemplates[s.rng.IntN(len(journeyTemplates))]
		ip := ipPool[s.rng.IntN(len(ipPool))]
		visitAt := s.now().Add(-time.Hour - time.Duration(s.rng.Int64N(int64(window))))

		for _, page := range journey {
			if written+len(batch) >= s.EventCount {
				break
			}
			batch = append(batch, views.ViewEvent{
				ID:        uuid.NewString(),
				Timestamp: visitAt.UTC().Format("2006-01-02T15:04:05.000Z"),
				IP:        ip,
				Page:      page,
			})
			visitAt = visitAt.Add(time.Duration(s.rng.IntN(110)+10) * time.Second)

			if len(batch) == insertBatchSize {
				if err := flush(); err != nil {
					return written, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return written, err
	}

	s.Logger.Info("Seeding completed", slog.Int("events", written), slog.Duration("elapsed", time.Since(start)))
	return written, nil
}

func (s *Seeder) visitorIPs(n int) []string {
	ips := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		if s.InternalIP != "" && s.rng.IntN(10) == 0 {
			ips = append(ips, s.InternalIP)
			continue
		}
		ips = append(ips, fmt.Sprintf("%d.%d.%d.%d", s.rng.IntN(255)+1, s.rng.IntN(256), s.rng.IntN(256), s.rng.IntN(256)))
	}
	return ips
}
