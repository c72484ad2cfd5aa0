package service

import (
	"encoding/json"

	"github.com/pair-tracker/internal/models"
)

const (
	// DefaultTake is the page size used when the client sends none
	DefaultTake = 50
	// MaxTake caps the page size; it matches the explorer's largest page
	MaxTake = 10000
)

// PaginatedResponse is the envelope returned by the transaction endpoints.
// Totals are raw token unit sums rendered as JSON numbers.
type PaginatedResponse struct {
	Data        []*models.Transaction `json:"data"`
	Take        int                   `json:"take"`
	Count       int64                 `json:"count"`
	CurrentPage int                   `json:"currentPage"`
	NextPage    *int                  `json:"nextPage"`
	PrevPage    *int                  `json:"prevPage"`
	LastPage    int64                 `json:"lastPage"`
	TotalETH    json.Number           `json:"totalETH"`
	TotalUSDC   json.Number           `json:"totalUSDC"`
}

// NormalizePage applies the default page and take and clamps take to MaxTake
func NormalizePage(page, take int) (int, int) {
	if page < 1 {
		page = 1
	}
	if take < 1 {
		take = DefaultTake
	}
	if take > MaxTake {
		take = MaxTake
	}
	return page, take
}

// Skip returns the number of rows before the given page
func Skip(page, take int) int {
	page, take = NormalizePage(page, take)
	return (page - 1) * take
}

// LastPage returns ceil(total/take)
func LastPage(total int64, take int) int64 {
	if total <= 0 || take <= 0 {
		return 0
	}
	t := int64(take)
	return (total + t - 1) / t
}

// Paginate builds the response envelope for one page. rows must already be
// the requested page; total is the size of the whole result set.
func Paginate(rows []*models.Transaction, total int64, page, take int, totals Totals) *PaginatedResponse {
	page, take = NormalizePage(page, take)
	if rows == nil {
		rows = []*models.Transaction{}
	}

	last := LastPage(total, take)
	resp := &PaginatedResponse{
		Data:        rows,
		Take:        take,
		Count:       total,
		CurrentPage: page,
		LastPage:    last,
		TotalETH:    json.Number(totals.ETH.String()),
		TotalUSDC:   json.Number(totals.USDC.String()),
	}

	if int64(page+1) <= last {
		next := page + 1
		resp.NextPage = &next
	}
	if page-1 >= 1 {
		prev := page - 1
		resp.PrevPage = &prev
	}
	return resp
}

// PageSlice cuts one page out of a full result set
func PageSlice(rows []*models.Transaction, page, take int) []*models.Transaction {
	skip := Skip(page, take)
	_, take = NormalizePage(page, take)
	if skip >= len(rows) {
		return []*models.Transaction{}
	}
	end := min(skip+take, len(rows))
	return rows[skip:end]
}
