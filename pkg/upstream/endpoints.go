package upstream

import (
	"context"
	"fmt"
	"net/url"
)

// page is the common next-cursor envelope all upstream list endpoints use.
type page[T any] struct {
	Count   int    `json:"count"`
	Next    string `json:"next"`
	Results []T    `json:"results"`
}

// Pager walks a paginated endpoint lazily, one page per Next call.
type Pager[T any] struct {
	client *Client
	next   string
}

// NewPager starts a pager at the given first-page URL.
func NewPager[T any](client *Client, first string) *Pager[T] {
	return &Pager[T]{client: client, next: first}
}

// More reports whether another page remains.
func (p *Pager[T]) More() bool {
	return p.next != ""
}

// Next fetches the next page of results.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	var body page[T]
	if err := p.client.GetJSON(ctx, p.next, &body); err != nil {
		return nil, err
	}
	p.next = body.Next
	return body.Results, nil
}

// Each walks every remaining record, stopping on the first handler error.
func (p *Pager[T]) Each(ctx context.Context, fn func(T) error) error {
	for p.More() {
		records, err := p.Next(ctx)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// CourseRunRecord is one LMS courses API record.
type CourseRunRecord struct {
	ID               string `json:"id"`
	Org              string `json:"org"`
	Number           string `json:"number"`
	Name             string `json:"name"`
	ShortDescription string `json:"short_description"`
	Start            string `json:"start"`
	End              string `json:"end"`
	EnrollmentStart  string `json:"enrollment_start"`
	EnrollmentEnd    string `json:"enrollment_end"`
	Pacing           string `json:"pacing"`
	Hidden           bool   `json:"hidden"`
	MobileAvailable  bool   `json:"mobile_available"`
	License          string `json:"license"`
	Media            struct {
		CourseVideo struct {
			URI string `json:"uri"`
		} `json:"course_video"`
		Image struct {
			Raw string `json:"raw"`
		} `json:"image"`
	} `json:"media"`
}

// AttributeValue is a name/value pair on an e-commerce product.
type AttributeValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// StockRecord carries the priced SKU of a child product.
type StockRecord struct {
	PartnerSKU    string `json:"partner_sku"`
	PriceCurrency string `json:"price_currency"`
	PriceExclTax  string `json:"price_excl_tax"`
}

// ProductRecord is one e-commerce products API record.
type ProductRecord struct {
	ID              int              `json:"id"`
	Structure       string           `json:"structure"`
	ProductClass    string           `json:"product_class"`
	Title           string           `json:"title"`
	ExpiresAt       string           `json:"expires"`
	AttributeValues []AttributeValue `json:"attribute_values"`
	StockRecords    []StockRecord    `json:"stockrecords"`
	Children        []ProductRecord  `json:"children"`
}

// Attribute returns the named attribute value as a string, or "".
func (p *ProductRecord) Attribute(name string) string {
	for _, a := range p.AttributeValues {
		if a.Name == name {
			if s, ok := a.Value.(string); ok {
				return s
			}
			if a.Value != nil {
				return fmt.Sprint(a.Value)
			}
		}
	}
	return ""
}

// RunMode ties a program's course code to a concrete run and seat mode.
type RunMode struct {
	CourseKey string `json:"course_key"`
	ModeSlug  string `json:"mode_slug"`
	SKU       string `json:"sku"`
	StartDate string `json:"start_date"`
}

// CourseCode is one course entry inside a program payload.
type CourseCode struct {
	Key          string    `json:"key"`
	Organization string    `json:"organization"`
	RunModes     []RunMode `json:"run_modes"`
}

// ProgramRecord is one programs API record.
type ProgramRecord struct {
	UUID            string            `json:"uuid"`
	Name            string            `json:"name"`
	Subtitle        string            `json:"subtitle"`
	Category        string            `json:"category"`
	Status          string            `json:"status"`
	MarketingSlug   string            `json:"marketing_slug"`
	Organizations   []string          `json:"organizations"`
	BannerImageURLs map[string]string `json:"banner_image_urls"`
	CourseCodes     []CourseCode      `json:"course_codes"`
}

// OrganizationRecord is one organizations API record.
type OrganizationRecord struct {
	Name        string `json:"name"`
	ShortName   string `json:"short_name"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
}

// Endpoints binds a client to a partner's configured upstream root URLs.
type Endpoints struct {
	Client           *Client
	CoursesURL       string
	ProductsURL      string
	ProgramsURL      string
	OrganizationsURL string
	PageSize         int
}

func (e *Endpoints) firstPage(root string, extra url.Values) string {
	u, err := url.Parse(root)
	if err != nil {
		return root
	}
	q := u.Query()
	if e.PageSize > 0 {
		q.Set("page_size", fmt.Sprintf("%d", e.PageSize))
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// CourseRuns pages the LMS courses API.
func (e *Endpoints) CourseRuns() *Pager[CourseRunRecord] {
	return NewPager[CourseRunRecord](e.Client, e.firstPage(e.CoursesURL, nil))
}

// Products pages the e-commerce products API, optionally filtered by
// product class ("Seat", "Enrollment Code", "Course Entitlement").
func (e *Endpoints) Products(productClass string) *Pager[ProductRecord] {
	extra := url.Values{}
	if productClass != "" {
		extra.Set("product_class", productClass)
	}
	return NewPager[ProductRecord](e.Client, e.firstPage(e.ProductsURL, extra))
}

// Programs pages the programs API.
func (e *Endpoints) Programs() *Pager[ProgramRecord] {
	return NewPager[ProgramRecord](e.Client, e.firstPage(e.ProgramsURL, nil))
}

// Organizations pages the organizations API.
func (e *Endpoints) Organizations() *Pager[OrganizationRecord] {
	return NewPager[OrganizationRecord](e.Client, e.firstPage(e.OrganizationsURL, nil))
}
