package negotiation

import (
	"math/rand"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	acceptPhrases = []string{
		"Deal! {price} it is. The product is reserved for you at this price.",
		"You've got it. I can do {price}. Add it to your cart whenever you're ready.",
		"Agreed at {price}. Thanks for negotiating with us!",
	}

	// Encouragement must never reveal a number.
	encouragePhrases = []string{
		"That's a bit lower than we can go. Could you come up a little?",
		"I appreciate the offer, but it's too low for this item. Try a better price?",
		"We're not quite there yet. Give it another shot with a higher offer.",
		"Close, but not close enough. What else can you offer?",
	}

	rejectWithHintPhrases = []string{
		"Sorry, {proposed} is below what we can accept. The lowest price I can offer is {min}.",
		"I can't go down to {proposed}. Our best price is {min}.",
		"{proposed} doesn't work for us, but I can let it go for {min}.",
	}

	greetingPhrases = []string{
		"Hi! This item is listed at {price}. Make me an offer, you have {attempts} tries.",
		"Welcome! The list price is {price}. What would you like to pay? You have {attempts} offers left.",
	}

	closedPhrases = []string{
		"This negotiation is closed.",
	}
)

// Phrasebook renders bot replies from fixed template pools. Template
// selection draws from an injected random source so tests can seed it.
type Phrasebook struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	printer  *message.Printer
	currency string
}

func NewPhrasebook(src rand.Source, currency string) *Phrasebook {
	return &Phrasebook{
		rnd:      rand.New(src),
		printer:  message.NewPrinter(language.English),
		currency: currency,
	}
}

// FormatPrice renders v with thousands separators and the currency suffix.
func (p *Phrasebook) FormatPrice(v int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.formatLocked(v)
}

func (p *Phrasebook) formatLocked(v int64) string {
	s := p.printer.Sprintf("%d", v)
	if p.currency == "" {
		return s
	}
	return s + " " + p.currency
}

func (p *Phrasebook) Accept(price int64) string {
	return p.render(acceptPhrases, map[string]int64{"{price}": price})
}

func (p *Phrasebook) Encourage() string {
	return p.render(encouragePhrases, nil)
}

func (p *Phrasebook) RejectWithHint(proposed, minPrice int64) string {
	return p.render(rejectWithHintPhrases, map[string]int64{"{proposed}": proposed, "{min}": minPrice})
}

func (p *Phrasebook) Greeting(listPrice int64, attemptsRemaining int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tmpl := p.pickLocked(greetingPhrases)
	r := strings.NewReplacer(
		"{price}", p.formatLocked(listPrice),
		"{attempts}", p.printer.Sprintf("%d", attemptsRemaining),
	)
	return r.Replace(tmpl)
}

func (p *Phrasebook) Closed() string {
	return p.render(closedPhrases, nil)
}

func (p *Phrasebook) render(pool []string, prices map[string]int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	tmpl := p.pickLocked(pool)
	if len(prices) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(prices)*2)
	for placeholder, v := range prices {
		pairs = append(pairs, placeholder, p.formatLocked(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func (p *Phrasebook) pickLocked(pool []string) string {
	return pool[p.rnd.Intn(len(pool))]
}
