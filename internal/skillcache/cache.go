package skillcache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Cache is the process-wide, read-only skill index. Build once at startup;
// all lookups are O(1) map reads. No mutation API is exposed.
type Cache struct {
	byID map[string]*Skill
	ids  []string // all skill ids, stable order (sorted)
}

// DocSource is the subset of the persistence adapter the cache needs to
// warm itself: one subject's raw curriculum tree per call. Build calls
// SkillDocument for every subject concurrently through an errgroup, one
// goroutine per subject, and stops at the first error; the number of
// concurrent reads is not capped.
type DocSource interface {
	// Subjects returns the list of subject names to load.
	Subjects(ctx context.Context) ([]string, error)
	// SkillDocument returns the raw curriculum tree for one subject.
	SkillDocument(ctx context.Context, subject string) (RawSkillDoc, error)
}

// Build scans all skill documents from src, flattens any nested hierarchy,
// rewrites prerequisite breadcrumbs to full skill_ids, drops (and logs)
// missing prerequisite targets, and rejects cyclic prerequisite graphs.
// The returned Cache is immutable.
func Build(ctx context.Context, src DocSource, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	subjects, err := src.Subjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	docs := make([]RawSkillDoc, len(subjects))
	g, gctx := errgroup.WithContext(ctx)
	for i, subject := range subjects {
		i, subject := i, subject
		g.Go(func() error {
			doc, err := src.SkillDocument(gctx, subject)
			if err != nil {
				return fmt.Errorf("load skill document for subject %q: %w", subject, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return BuildFromDocs(docs, logger)
}

// flatSkill is a skill before prerequisite rewriting, with the raw
// (un-rewritten) breadcrumb prerequisite list retained alongside it.
type flatSkill struct {
	skill        Skill
	rawPrereqs   []string
	subject      string
	gradeLevel   int
}

// BuildFromDocs flattens already-fetched subject documents. Exported
// separately from Build so tests and cmd/dashsystem (which fetches docs via
// the adapter's ListSkillDocuments) can construct a Cache without
// implementing DocSource.
func BuildFromDocs(docs []RawSkillDoc, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var flats []flatSkill
	for _, doc := range docs {
		flatten(doc, doc.Subject, &flats)
	}

	byID := make(map[string]*Skill, len(flats))
	for i := range flats {
		s := flats[i].skill
		byID[s.ID] = &flats[i].skill
	}

	dropped := 0
	for i := range flats {
		f := &flats[i]
		resolved := make([]string, 0, len(f.rawPrereqs))
		for _, breadcrumb := range f.rawPrereqs {
			prereqID := fmt.Sprintf("%s_%d_%s", f.subject, f.gradeLevel, breadcrumb)
			if _, ok := byID[prereqID]; !ok {
				logger.Warn("dropping missing prerequisite target",
					slog.String("skill_id", f.skill.ID),
					slog.String("prereq_id", prereqID))
				dropped++
				continue
			}
			resolved = append(resolved, prereqID)
		}
		f.skill.Prerequisites = resolved
		byID[f.skill.ID].Prerequisites = resolved
	}

	if err := detectCycle(byID); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	logger.Info("skill cache built",
		slog.Int("skills_loaded", len(byID)),
		slog.Int("prereqs_dropped", dropped))

	return &Cache{byID: byID, ids: ids}, nil
}

// flatten recursively walks a raw curriculum tree. A node with no Children
// is a leaf (an actual skill) whose id is built from the top-level subject
// and the leaf's own GradeLevel and Breadcrumb; intermediate nodes exist
// only to group children and contribute none of their own fields.
func flatten(node RawSkillDoc, subject string, out *[]flatSkill) {
	if len(node.Children) == 0 {
		id := fmt.Sprintf("%s_%d_%s", subject, node.GradeLevel, node.Breadcrumb)
		*out = append(*out, flatSkill{
			skill: Skill{
				ID:             id,
				Name:           node.Name,
				GradeLevel:     node.GradeLevel,
				ForgettingRate: node.ForgettingRate,
				Difficulty:     node.Difficulty,
			},
			rawPrereqs: node.Prerequisites,
			subject:    subject,
			gradeLevel: node.GradeLevel,
		})
		return
	}
	for _, child := range node.Children {
		flatten(child, subject, out)
	}
}

// detectCycle runs Kahn's algorithm over the prerequisite graph (edges
// point from a skill to its prerequisites). If the topological queue
// drains before every node is visited, a cycle exists among the
// unvisited remainder.
func detectCycle(byID map[string]*Skill) error {
	inDegree := make(map[string]int, len(byID))
	dependents := make(map[string][]string, len(byID))
	for id, s := range byID {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, prereq := range s.Prerequisites {
			inDegree[id]++
			dependents[prereq] = append(dependents[prereq], id)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		deps := append([]string(nil), dependents[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(byID) {
		return fmt.Errorf("prerequisite graph contains a cycle: %d of %d skills unreachable by topological order", len(byID)-visited, len(byID))
	}
	return nil
}

// Get returns a skill by id and whether it was found.
func (c *Cache) Get(id string) (Skill, bool) {
	s, ok := c.byID[id]
	if !ok {
		return Skill{}, false
	}
	return *s, true
}

// All returns every skill in stable (sorted by id) order.
func (c *Cache) All() []Skill {
	out := make([]Skill, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, *c.byID[id])
	}
	return out
}

// Len returns the number of skills in the cache.
func (c *Cache) Len() int { return len(c.ids) }

// Once guards a single Cache build across concurrent callers, e.g. a
// lazily-initialized package-level cache shared by all requests in a
// process. Build itself is not idempotent (it always does the work); Once
// is the seam that makes "build exactly once at process start" enforceable
// even if multiple goroutines race to initialize it.
type Once struct {
	once  sync.Once
	cache *Cache
	err   error
}

// Get runs build exactly once and returns its result to every caller.
func (o *Once) Get(build func() (*Cache, error)) (*Cache, error) {
	o.once.Do(func() {
		o.cache, o.err = build()
	})
	return o.cache, o.err
}
