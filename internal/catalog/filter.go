package catalog

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/apperr"
)

type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortPrice     SortField = "price"
	SortName      SortField = "name"
)

const (
	defaultLimit = 12
	maxLimit     = 100
)

// Filter enumerates every supported product listing constraint.
type Filter struct {
	Category         string
	Subcategory      string
	MinPrice         *decimal.Decimal
	MaxPrice         *decimal.Decimal
	Tags             []string
	HalalCertified   bool
	TayyibVerified   bool
	OrganicCertified bool
	Featured         bool
	Search           string
	VendorID         string
	IncludeInactive  bool
	Sort             SortField
	Descending       bool
	Page             int
	Limit            int
}

// ParseFilter reads a listing filter from query parameters.
func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{
		Category:         strings.TrimSpace(q.Get("category")),
		Subcategory:      strings.TrimSpace(q.Get("subcategory")),
		HalalCertified:   q.Get("halal_certified") == "true",
		TayyibVerified:   q.Get("tayyib_verified") == "true",
		OrganicCertified: q.Get("organic_certified") == "true",
		Featured:         q.Get("featured") == "true",
		Search:           strings.TrimSpace(q.Get("search")),
		Sort:             SortCreatedAt,
		Descending:       q.Get("sort_order") != "asc",
		Page:             1,
		Limit:            defaultLimit,
	}
	if f.Category == "all" {
		f.Category = ""
	}

	for _, tag := range strings.Split(q.Get("tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			f.Tags = append(f.Tags, tag)
		}
	}

	var err error
	if f.MinPrice, err = parsePrice(q, "min_price"); err != nil {
		return Filter{}, err
	}
	if f.MaxPrice, err = parsePrice(q, "max_price"); err != nil {
		return Filter{}, err
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return Filter{}, apperr.Validation("min_price must not exceed max_price")
	}

	if s := q.Get("sort_by"); s != "" {
		switch SortField(s) {
		case SortCreatedAt, SortPrice, SortName:
			f.Sort = SortField(s)
		default:
			return Filter{}, apperr.Validation("unsupported sort_by %q", s)
		}
	}

	if f.Page, err = parsePositive(q, "page", 1); err != nil {
		return Filter{}, err
	}
	if f.Limit, err = parsePositive(q, "limit", defaultLimit); err != nil {
		return Filter{}, err
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	return f, nil
}

func parsePrice(q url.Values, key string) (*decimal.Decimal, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return nil, apperr.Validation("%s must be a non-negative number", key)
	}
	return &d, nil
}

func parsePositive(q url.Values, key string, fallback int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, apperr.Validation("%s must be a positive integer", key)
	}
	return n, nil
}

// where renders the filter as a SQL predicate with positional arguments.
func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(format string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(format, len(args)))
	}

	if !f.IncludeInactive {
		clauses = append(clauses, "is_active")
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Subcategory != "" {
		add("subcategory = $%d", f.Subcategory)
	}
	if f.MinPrice != nil {
		add("price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $%d", *f.MaxPrice)
	}
	if len(f.Tags) > 0 {
		add("tags && $%d", pq.Array(f.Tags))
	}
	if f.HalalCertified {
		clauses = append(clauses, "halal_certified")
	}
	if f.TayyibVerified {
		clauses = append(clauses, "tayyib_verified")
	}
	if f.OrganicCertified {
		clauses = append(clauses, "organic_certified")
	}
	if f.Featured {
		clauses = append(clauses, "is_featured")
	}
	if f.VendorID != "" {
		add("vendor_id = $%d", f.VendorID)
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d OR brand ILIKE $%d)", n, n, n))
	}

	if len(clauses) == 0 {
		return "TRUE", args
	}
	return strings.Join(clauses, " AND "), args
}

func (f Filter) orderBy() string {
	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, id ASC", f.Sort, dir)
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.Limit
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
