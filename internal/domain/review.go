package domain

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// Rating bounds and the number of decimals kept on a product's aggregate.
const (
	MinRating       = 1
	MaxRating       = 5
	RatingPrecision = 1
)

// Review is one identity's opinion of a product. A product holds at most one
// review per UserID.
type Review struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Aggregate returns the mean rating rounded to RatingPrecision decimals and
// the number of reviews. An empty collection yields (0, 0).
func Aggregate(reviews map[string]Review) (rating float64, count int) {
	var sum int64
	for _, r := range reviews {
		sum += int64(r.Rating)
	}
	return RatingFromSum(sum, len(reviews)), len(reviews)
}

// RatingFromSum applies the aggregate rounding policy to a precomputed sum:
// half away from zero at RatingPrecision decimals.
func RatingFromSum(sum int64, count int) float64 {
	if count == 0 {
		return 0
	}
	scale := math.Pow10(RatingPrecision)
	return math.Round(float64(sum)*scale/float64(count)) / scale
}

// SortReviews orders reviews by creation time, then by user id.
func SortReviews(reviews []Review) {
	slices.SortFunc(reviews, func(a, b Review) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
}
