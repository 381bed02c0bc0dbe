package handlers

import (
	"net/http"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/api/middleware"
	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
)

// defaultBucketDays is the look-back when no from date is given.
const defaultBucketDays = 30

// BucketsHandler handles day-bucket listing.
type BucketsHandler struct {
	engine Reconciler
	clock  func() time.Time
	log    zerolog.Logger
}

// NewBucketsHandler creates a new buckets handler.
func NewBucketsHandler(engine Reconciler, log zerolog.Logger) *BucketsHandler {
	return &BucketsHandler{engine: engine, clock: time.Now, log: log}
}

type bucketView struct {
	Date             civil.Date               `json:"date"`
	TransactionTotal decimal.Decimal          `json:"transaction_total"`
	EntryTotal       decimal.Decimal          `json:"entry_total"`
	Transactions     []domain.Transaction     `json:"transactions"`
	Entries          []domain.SettlementEntry `json:"entries"`
}

// ListBuckets handles GET /api/buckets?flow=&from=&to=&source=
func (h *BucketsHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	flow, err := domain.ParseReconciliationType(query.Get("flow"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	to := civil.DateOf(h.clock())
	if s := query.Get("to"); s != "" {
		if to, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid to format")
			return
		}
	}
	from := to.AddDays(-defaultBucketDays)
	if s := query.Get("from"); s != "" {
		if from, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid from format")
			return
		}
	}
	if to.Before(from) {
		middleware.WriteError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	buckets, err := h.engine.Buckets(r.Context(), reconcile.BucketQuery{Flow: flow, From: from, To: to, Source: query.Get("source")})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list buckets")
		middleware.WriteError(w, StatusFor(err), err.Error())
		return
	}

	views := make([]bucketView, 0, len(buckets))
	for _, b := range buckets {
		v := bucketView{
			Date:             b.Date,
			TransactionTotal: decimal.Zero,
			EntryTotal:       decimal.Zero,
			Transactions:     b.Transactions,
			Entries:          b.Entries,
		}
		for _, tx := range b.Transactions {
			v.TransactionTotal = v.TransactionTotal.Add(tx.Amount)
		}
		for _, e := range b.Entries {
			v.EntryTotal = v.EntryTotal.Add(e.Value)
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Date.Before(views[j].Date) })

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"buckets": views,
		"count":   len(views),
	})
}
