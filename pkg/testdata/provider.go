package testdata

import (
	"context"

	"github.com/jordanlanch/callops/pkg/mightycall"
	"github.com/jordanlanch/callops/pkg/models"
)

// Provider is an in-memory MightyCall account. It serves its records
// filtered by date the way the real endpoints do.
type Provider struct {
	Numbers    []mightycall.Raw
	Calls      []mightycall.Raw
	Recordings []mightycall.Raw
	Reports    []mightycall.Raw
	Messages   []mightycall.Raw

	// AuthErr is returned by Authenticate when set
	AuthErr error
}

// Account describes a generated provider account
type Account struct {
	Business    []string
	Range       models.DateRange
	CallsPerDay int
	SMSPerDay   int
}

// NewProvider generates a full account for the business numbers over rng
func NewProvider(g *Generator, acct Account) *Provider {
	days := int(acct.Range.To.Sub(acct.Range.From).Hours()/24) + 1

	p := &Provider{
		Calls:    g.Calls(days*acct.CallsPerDay, acct.Business, acct.Range),
		Messages: g.SMS(days*acct.SMSPerDay, acct.Business, acct.Range),
		Reports:  g.Reports(acct.Range),
	}
	p.Recordings = g.Recordings(p.Calls)
	for _, n := range acct.Business {
		p.Numbers = append(p.Numbers, mightycall.Raw{"phoneNumber": n, "isActive": true})
	}
	p.Numbers = append(p.Numbers, g.PhoneNumbers(2)...)
	return p
}

func (p *Provider) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.AuthErr
}

func (p *Provider) ListPhoneNumbers(ctx context.Context) ([]mightycall.Raw, error) {
	return p.Numbers, ctx.Err()
}

func (p *Provider) ListCalls(ctx context.Context, rng models.DateRange) ([]mightycall.Raw, error) {
	return inRange(p.Calls, rng), ctx.Err()
}

func (p *Provider) ListRecordings(ctx context.Context, rng models.DateRange) ([]mightycall.Raw, error) {
	return inRange(p.Recordings, rng), ctx.Err()
}

func (p *Provider) ListReports(ctx context.Context, rng models.DateRange) ([]mightycall.Raw, error) {
	return inRange(p.Reports, rng), ctx.Err()
}

func (p *Provider) ListSMS(ctx context.Context, rng models.DateRange) ([]mightycall.Raw, error) {
	return inRange(p.Messages, rng), ctx.Err()
}

func inRange(records []mightycall.Raw, rng models.DateRange) []mightycall.Raw {
	var out []mightycall.Raw
	for _, r := range records {
		t, ok := r.Time("dateTimeUtc", "date")
		if ok && !rng.Contains(t) {
			continue
		}
		out = append(out, r)
	}
	return out
}
