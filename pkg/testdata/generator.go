package testdata

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/jordanlanch/callops/pkg/mightycall"
	"github.com/jordanlanch/callops/pkg/models"
)

// Provider-side spellings, as the API returns them
var (
	callStatuses = []string{"Connected", "Connected", "Connected", "Missed", "Voicemail", "Transferred"}
	directions   = []string{"Incoming", "Incoming", "Incoming", "Outgoing"}
	queueNames   = []string{"Sales", "Support", "Billing", "Front Desk", ""}
	smsStatuses  = []string{"Delivered", "Sent", "Failed", "Received"}
	reportTypes  = []string{"daily_summary", "agent_activity", "queue_performance"}
)

// Generator produces realistic MightyCall payloads. The same seed yields the
// same payloads.
type Generator struct {
	faker *gofakeit.Faker
	seq   int
}

// NewGenerator creates a generator seeded with seed
func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

func (g *Generator) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%06d", prefix, g.seq)
}

// PhoneNumber returns a US number in E.164
func (g *Generator) PhoneNumber() string {
	return g.faker.Numerify("+1" + g.faker.RandomString([]string{"212", "305", "415", "646", "702", "917"}) + "555####")
}

// CompanyName returns a fake business name
func (g *Generator) CompanyName() string {
	return g.faker.Company()
}

// PhoneNumbers returns n catalog entries
func (g *Generator) PhoneNumbers(n int) []mightycall.Raw {
	out := make([]mightycall.Raw, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mightycall.Raw{
			"id":          g.nextID("num"),
			"phoneNumber": g.PhoneNumber(),
			"name":        g.faker.Company() + " Line",
			"isActive":    true,
		})
	}
	return out
}

func (g *Generator) timeIn(rng models.DateRange) time.Time {
	end := rng.To.Add(-time.Second)
	if !end.After(rng.From) {
		return rng.From
	}
	return g.faker.DateRange(rng.From, end).UTC().Truncate(time.Second)
}

// Calls returns n calls inside rng, each touching one of business
func (g *Generator) Calls(n int, business []string, rng models.DateRange) []mightycall.Raw {
	out := make([]mightycall.Raw, 0, n)
	for i := 0; i < n; i++ {
		ours := g.faker.RandomString(business)
		theirs := g.PhoneNumber()
		direction := g.faker.RandomString(directions)
		status := g.faker.RandomString(callStatuses)

		from, to := theirs, ours
		if direction == "Outgoing" {
			from, to = ours, theirs
		}

		duration := 0
		if status == "Connected" || status == "Transferred" {
			duration = g.faker.Number(15, 1800)
		}

		call := mightycall.Raw{
			"id":          g.nextID("call"),
			"from":        map[string]any{"phoneNumber": from},
			"to":          map[string]any{"phoneNumber": to},
			"direction":   direction,
			"callStatus":  status,
			"dateTimeUtc": g.timeIn(rng).Format(time.RFC3339),
			"duration":    duration,
			"agent":       g.faker.Name(),
		}
		if q := g.faker.RandomString(queueNames); q != "" {
			call["queue"] = q
		}
		out = append(out, call)
	}
	return out
}

// Recordings returns one recording per answered call in calls
func (g *Generator) Recordings(calls []mightycall.Raw) []mightycall.Raw {
	var out []mightycall.Raw
	for _, c := range calls {
		if c["callStatus"] != "Connected" {
			continue
		}
		id := g.nextID("rec")
		var number any
		if to, ok := c["to"].(map[string]any); ok {
			number = to["phoneNumber"]
		}
		out = append(out, mightycall.Raw{
			"id":          id,
			"callId":      c["id"],
			"phoneNumber": number,
			"url":         "https://recordings.example.com/" + id + ".mp3",
			"duration":    c["duration"],
			"dateTimeUtc": c["dateTimeUtc"],
		})
	}
	return out
}

// SMS returns n messages inside rng
func (g *Generator) SMS(n int, business []string, rng models.DateRange) []mightycall.Raw {
	out := make([]mightycall.Raw, 0, n)
	for i := 0; i < n; i++ {
		ours := g.faker.RandomString(business)
		theirs := g.PhoneNumber()
		direction := g.faker.RandomString(directions)

		from, to := theirs, ours
		if direction == "Outgoing" {
			from, to = ours, theirs
		}
		out = append(out, mightycall.Raw{
			"id":          g.nextID("msg"),
			"from":        from,
			"to":          to,
			"direction":   direction,
			"text":        g.faker.Sentence(g.faker.Number(3, 15)),
			"status":      g.faker.RandomString(smsStatuses),
			"dateTimeUtc": g.timeIn(rng).Format(time.RFC3339),
		})
	}
	return out
}

// Reports returns one report per day in rng
func (g *Generator) Reports(rng models.DateRange) []mightycall.Raw {
	var out []mightycall.Raw
	for d := rng.From.Truncate(24 * time.Hour); d.Before(rng.To); d = d.Add(24 * time.Hour) {
		if d.Before(rng.From) {
			continue
		}
		total := g.faker.Number(20, 400)
		answered := g.faker.Number(0, total)
		out = append(out, mightycall.Raw{
			"id":   g.nextID("rpt"),
			"type": g.faker.RandomString(reportTypes),
			"date": d.Format(time.RFC3339),
			"metrics": []any{
				map[string]any{"name": "total_calls", "value": total},
				map[string]any{"name": "answered_calls", "value": answered},
				map[string]any{"name": "avg_handle_time", "value": g.faker.Float64Range(30, 600), "unit": "seconds"},
			},
		})
	}
	return out
}
