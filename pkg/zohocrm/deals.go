package zohocrm

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/model"
)

const (
	defaultDealPageSize = 200
	maxDealPages        = 10
	maxEmailContacts    = 5
)

type recordsPage struct {
	Data []map[string]any `json:"data"`
	Info struct {
		MoreRecords bool `json:"more_records"`
	} `json:"info"`
}

// DealLoader loads the deals attached to a CRM contact.
type DealLoader struct {
	client   Client
	pageSize int
}

// NewDealLoader creates a loader on top of c.
func NewDealLoader(c Client) *DealLoader {
	return &DealLoader{client: c, pageSize: defaultDealPageSize}
}

// GetDealsForClient returns the deals of the contact, plus those of the
// contacts found by email when the contact id yields nothing. Deals are
// deduplicated by id in first-seen order.
func (l *DealLoader) GetDealsForClient(ctx context.Context, contactID, email string) ([]model.Deal, error) {
	var out []model.Deal
	seen := make(map[string]bool)
	add := func(deals []model.Deal) {
		for _, d := range deals {
			id := d.ID()
			if id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			out = append(out, d)
		}
	}

	if contactID != "" {
		deals, err := l.contactDeals(ctx, contactID)
		if err != nil {
			return nil, err
		}
		add(deals)
	}
	if len(out) > 0 || strings.TrimSpace(email) == "" {
		return out, nil
	}

	ids, err := l.contactsByEmail(ctx, email)
	if err != nil {
		if contactID != "" {
			zap.L().Warn("zohocrm: contact search by email failed", zap.Error(err))
			return out, nil
		}
		return nil, err
	}
	for _, id := range ids {
		if id == contactID {
			continue
		}
		deals, err := l.contactDeals(ctx, id)
		if err != nil {
			return nil, err
		}
		add(deals)
	}
	return out, nil
}

func (l *DealLoader) contactDeals(ctx context.Context, contactID string) ([]model.Deal, error) {
	var out []model.Deal
	for page := 1; page <= maxDealPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(l.pageSize))

		var resp recordsPage
		if err := l.client.Get(ctx, "Contacts/"+url.PathEscape(contactID)+"/Deals", q, &resp); err != nil {
			return nil, eris.Wrapf(err, "zohocrm: deals for contact %s", contactID)
		}
		for _, rec := range resp.Data {
			out = append(out, model.Deal(rec))
		}
		if !resp.Info.MoreRecords || len(resp.Data) == 0 {
			break
		}
	}
	return out, nil
}

func (l *DealLoader) contactsByEmail(ctx context.Context, email string) ([]string, error) {
	q := url.Values{}
	q.Set("email", strings.TrimSpace(email))

	var resp recordsPage
	if err := l.client.Get(ctx, "Contacts/search", q, &resp); err != nil {
		return nil, eris.Wrap(err, "zohocrm: search contacts by email")
	}
	var ids []string
	for _, rec := range resp.Data {
		if id := model.Text(rec["id"]); id != "" {
			ids = append(ids, id)
		}
		if len(ids) == maxEmailContacts {
			break
		}
	}
	return ids, nil
}
