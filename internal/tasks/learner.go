// Package tasks lists every task of a Zoho Projects project. Tenants accept
// different query shapes on the task endpoint, so the learner tries a fixed
// list of strategies and remembers which one worked per project.
package tasks

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/cache"
	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
)

const (
	defaultPageSize = 100
	maxPageSize     = 200
	maxPages        = 25
	maxTasklists    = 40
	tasklistWorkers = 1
)

// Caller performs a routed Projects API call.
type Caller interface {
	Call(ctx context.Context, endpoint string, query url.Values) (map[string]any, error)
}

type pagination int

const (
	pagePerPage pagination = iota
	indexRange
)

// Strategy is one query shape for the task endpoint.
type Strategy struct {
	Params     url.Values
	Pagination pagination
}

// Strategies are tried in this order. The index of the winner is cached.
var Strategies = func() []Strategy {
	params := []url.Values{
		{"status": {"all"}, "view_type": {"all"}},
		{"status": {"all"}},
		{},
	}
	var out []Strategy
	for _, p := range params {
		out = append(out, Strategy{Params: p, Pagination: pagePerPage}, Strategy{Params: p, Pagination: indexRange})
	}
	return out
}()

// query returns the strategy's parameters for a zero-based page.
func (s Strategy) query(page, size int) url.Values {
	q := url.Values{}
	for k, v := range s.Params {
		q[k] = append([]string(nil), v...)
	}
	if s.Pagination == pagePerPage {
		q.Set("page", strconv.Itoa(page+1))
		q.Set("per_page", strconv.Itoa(size))
	} else {
		q.Set("index", strconv.Itoa(page*size+1))
		q.Set("range", strconv.Itoa(size))
	}
	return q
}

// Learner fetches project tasks.
type Learner struct {
	api    Caller
	caches *cache.Manager
}

// NewLearner creates a Learner.
func NewLearner(api Caller, caches *cache.Manager) *Learner {
	return &Learner{api: api, caches: caches}
}

// AllProjectTasks returns the project's tasks. An empty slice with a nil
// error means at least one upstream call succeeded and found nothing; an
// error means every call failed. Rate limits and caller cancellation stop
// immediately.
func (l *Learner) AllProjectTasks(ctx context.Context, projectID string, pageSize int) ([]model.Task, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, eris.New("tasks: project id is required")
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	endpoint := "/projects/" + url.PathEscape(projectID) + "/tasks/"
	var (
		lastErr   error
		succeeded bool
	)
	for _, idx := range l.order(projectID) {
		tasks, err := l.run(ctx, endpoint, Strategies[idx], pageSize)
		if err != nil {
			if stop(err) {
				return nil, err
			}
			zap.L().Debug("tasks: strategy failed",
				zap.String("project_id", projectID),
				zap.Int("strategy", idx),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		succeeded = true
		if len(tasks) > 0 {
			l.caches.TaskStrategy.Set(projectID, idx)
			return tasks, nil
		}
	}

	tasks, err := l.viaTasklists(ctx, projectID, pageSize)
	switch {
	case err != nil && stop(err):
		return nil, err
	case err == nil:
		succeeded = true
		if len(tasks) > 0 {
			return tasks, nil
		}
	default:
		lastErr = err
	}

	if succeeded {
		return []model.Task{}, nil
	}
	return nil, eris.Wrapf(lastErr, "tasks: every strategy failed for project %s", projectID)
}

func (l *Learner) order(projectID string) []int {
	out := make([]int, 0, len(Strategies))
	cached, ok := l.caches.TaskStrategy.Get(projectID)
	if ok && cached >= 0 && cached < len(Strategies) {
		out = append(out, cached)
	}
	for i := range Strategies {
		if !ok || i != cached {
			out = append(out, i)
		}
	}
	return out
}

// run pages through endpoint with one strategy. Only a failing first page is
// an error; later failures keep what was collected.
func (l *Learner) run(ctx context.Context, endpoint string, s Strategy, size int) ([]model.Task, error) {
	var out []model.Task
	seen := make(map[string]bool)
	for page := 0; page < maxPages; page++ {
		payload, err := l.api.Call(ctx, endpoint, s.query(page, size))
		if err != nil {
			if page == 0 || stop(err) {
				return nil, err
			}
			zap.L().Warn("tasks: stopping pagination early", zap.String("endpoint", endpoint), zap.Int("page", page), zap.Error(err))
			break
		}

		rows := records(payload, "tasks")
		added := 0
		for _, row := range rows {
			if k := Key(row); !seen[k] {
				seen[k] = true
				out = append(out, model.Task(row))
				added++
			}
		}
		if added == 0 || !hasMore(payload) {
			break
		}
	}
	return out, nil
}

// viaTasklists collects tasks list by list.
func (l *Learner) viaTasklists(ctx context.Context, projectID string, size int) ([]model.Task, error) {
	base := "/projects/" + url.PathEscape(projectID) + "/tasklists/"
	payload, err := l.api.Call(ctx, base, nil)
	if err != nil {
		return nil, err
	}

	var listIDs []string
	for _, row := range records(payload, "tasklists") {
		id := model.Text(row["id_string"])
		if id == "" {
			id = model.Text(row["id"])
		}
		if id != "" {
			listIDs = append(listIDs, id)
		}
		if len(listIDs) == maxTasklists {
			break
		}
	}

	perList := make([][]model.Task, len(listIDs))
	err = resilience.ForEach(ctx, listIDs, tasklistWorkers, func(ctx context.Context, i int, id string) error {
		tasks, err := l.run(ctx, base+url.PathEscape(id)+"/tasks/", Strategy{Pagination: indexRange}, size)
		if err != nil {
			if stop(err) {
				return err
			}
			zap.L().Warn("tasks: tasklist fetch failed",
				zap.String("project_id", projectID),
				zap.String("tasklist_id", id),
				zap.Error(err),
			)
			return nil
		}
		perList[i] = tasks
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []model.Task
	seen := make(map[string]bool)
	for _, tasks := range perList {
		for _, t := range tasks {
			if k := Key(t); !seen[k] {
				seen[k] = true
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func stop(err error) bool {
	return resilience.IsRateLimited(err) || resilience.IsAborted(err)
}

func records(payload map[string]any, key string) []map[string]any {
	list, _ := payload[key].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// hasMore reads the three pagination flags Zoho uses. A missing flag means
// keep going; the net-new check and page cap end the loop.
func hasMore(payload map[string]any) bool {
	if pi, ok := payload["page_info"].(map[string]any); ok {
		if more, ok := flag(pi["has_more_page"]); ok {
			return more
		}
	}
	if info, ok := payload["info"].(map[string]any); ok {
		if more, ok := flag(info["more_records"]); ok {
			return more
		}
	}
	if more, ok := flag(payload["has_more"]); ok {
		return more
	}
	return true
}

func flag(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

var idKeys = []string{"id_string", "id", "task_id", "key"}

// Key is the deduplication key of a task: an id-like field, else
// name, status, start and end, else the canonical JSON encoding.
func Key(t map[string]any) string {
	for _, k := range idKeys {
		if v := model.Text(t[k]); v != "" {
			return "id:" + v
		}
	}

	status := model.Text(t["status"])
	if m, ok := t["status"].(map[string]any); ok {
		status = model.Text(m["name"])
	}
	parts := []string{model.Text(t["name"]), status, model.Text(t["start_date"]), model.Text(t["end_date"])}
	if strings.Join(parts, "") != "" {
		return "f:" + strings.Join(parts, "\x1f")
	}

	// encoding/json sorts map keys, which makes this canonical.
	b, err := json.Marshal(t)
	if err != nil {
		return "raw"
	}
	return "j:" + string(b)
}
