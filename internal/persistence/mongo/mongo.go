// Package mongo implements persistence.Adapter against MongoDB, mirroring
// the three-collection schema (skills, questions, users) and the atomic
// update shapes of the system's original handler: a composite
// $set/$inc/$push+$slice write for bulk skill updates, and an atomic
// findOneAndUpdate for at-most-once question delivery (the one place this
// implementation strengthens the original's find_one-then-update_one pair,
// which left a race between concurrent requests for the same user).
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/abhisek/dashsystem/internal/dasherr"
	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

// Handler is a MongoDB-backed persistence.Adapter.
type Handler struct {
	client    *mongo.Client
	db        *mongo.Database
	skills    *mongo.Collection
	questions *mongo.Collection
	users     *mongo.Collection

	historyCap int
}

// SetHistoryCap overrides the question_history bound (an internal/config
// HISTORY_CAP override), defaulting to persistence.HistoryCap.
func (h *Handler) SetHistoryCap(n int) { h.historyCap = n }

// Connect dials uri, selects database dbName, verifies connectivity with a
// ping, and ensures indexes exist. Callers must Close the returned Handler.
func Connect(ctx context.Context, uri, dbName string) (*Handler, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, dasherr.StoreUnavailable("mongo.Connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, dasherr.StoreUnavailable("mongo.Ping", err)
	}

	db := client.Database(dbName)
	h := &Handler{
		client:     client,
		db:         db,
		skills:     db.Collection("skills"),
		questions:  db.Collection("questions"),
		users:      db.Collection("users"),
		historyCap: persistence.HistoryCap,
	}
	if err := h.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Close disconnects the underlying client.
func (h *Handler) Close(ctx context.Context) error {
	return h.client.Disconnect(ctx)
}

func (h *Handler) ensureIndexes(ctx context.Context) error {
	skillIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "subject", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	questionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "question_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "skill_ids", Value: 1}}},
		{Keys: bson.D{{Key: "skill_ids", Value: 1}, {Key: "times_shown", Value: 1}}},
	}
	userIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "grade_level", Value: 1}}},
	}

	if _, err := h.skills.Indexes().CreateMany(ctx, skillIndexes); err != nil {
		return dasherr.StoreUnavailable("ensure skills indexes", err)
	}
	if _, err := h.questions.Indexes().CreateMany(ctx, questionIndexes); err != nil {
		return dasherr.StoreUnavailable("ensure questions indexes", err)
	}
	if _, err := h.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return dasherr.StoreUnavailable("ensure users indexes", err)
	}
	return nil
}

// --- wire documents ---

type skillStateDoc struct {
	MemoryStrength   float64    `bson:"memory_strength"`
	LastPracticeTime *time.Time `bson:"last_practice_time"`
	PracticeCount    int        `bson:"practice_count"`
	CorrectCount     int        `bson:"correct_count"`
	LastUpdated      time.Time  `bson:"last_updated"`
}

type questionAttemptDoc struct {
	QuestionID          string    `bson:"question_id"`
	SkillIDs            []string  `bson:"skill_ids"`
	IsCorrect           bool      `bson:"is_correct"`
	ResponseTimeSeconds float64   `bson:"response_time_seconds"`
	TimePenaltyApplied  bool      `bson:"time_penalty_applied"`
	Timestamp           time.Time `bson:"timestamp"`
}

type userDoc struct {
	UserID          string                   `bson:"user_id"`
	CreatedAt       time.Time                `bson:"created_at"`
	LastUpdated     time.Time                `bson:"last_updated"`
	Age             *int                     `bson:"age"`
	GradeLevel      string                   `bson:"grade_level"`
	SkillStates     map[string]skillStateDoc `bson:"skill_states"`
	QuestionHistory []questionAttemptDoc     `bson:"question_history"`
}

type questionDoc struct {
	QuestionID string   `bson:"question_id"`
	SkillIDs   []string `bson:"skill_ids"`
	TimesShown int      `bson:"times_shown"`
	Payload    bson.M   `bson:",inline"`
}

func toProfile(d userDoc) *persistence.UserProfile {
	states := make(map[string]persistence.PerSkillState, len(d.SkillStates))
	for id, s := range d.SkillStates {
		states[id] = persistence.PerSkillState{
			MemoryStrength:   s.MemoryStrength,
			LastPracticeTime: s.LastPracticeTime,
			PracticeCount:    s.PracticeCount,
			CorrectCount:     s.CorrectCount,
			LastUpdated:      s.LastUpdated,
		}
	}
	history := make([]persistence.QuestionAttempt, 0, len(d.QuestionHistory))
	for _, a := range d.QuestionHistory {
		history = append(history, persistence.QuestionAttempt{
			QuestionID:          a.QuestionID,
			SkillIDs:            a.SkillIDs,
			IsCorrect:           a.IsCorrect,
			ResponseTimeSeconds: a.ResponseTimeSeconds,
			TimePenaltyApplied:  a.TimePenaltyApplied,
			Timestamp:           a.Timestamp,
		})
	}
	return &persistence.UserProfile{
		UserID:          d.UserID,
		CreatedAt:       d.CreatedAt,
		LastUpdated:     d.LastUpdated,
		Age:             d.Age,
		GradeLevel:      d.GradeLevel,
		SkillStates:     states,
		QuestionHistory: history,
	}
}

// GetUser implements persistence.Adapter.
func (h *Handler) GetUser(ctx context.Context, userID string) (*persistence.UserProfile, error) {
	var doc userDoc
	err := h.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, dasherr.StoreUnavailable("GetUser", err)
	}
	return toProfile(doc), nil
}

// CreateUser implements persistence.Adapter. A duplicate-key error on an
// existing user is treated as success, matching get_or_create semantics.
func (h *Handler) CreateUser(ctx context.Context, userID string, skillIDs []string, age *int, gradeLevel string) error {
	now := time.Now()
	states := make(map[string]skillStateDoc, len(skillIDs))
	for _, id := range skillIDs {
		states[id] = skillStateDoc{MemoryStrength: 0.0, LastUpdated: now}
	}
	doc := userDoc{
		UserID:          userID,
		CreatedAt:       now,
		LastUpdated:     now,
		Age:             age,
		GradeLevel:      gradeLevel,
		SkillStates:     states,
		QuestionHistory: []questionAttemptDoc{},
	}
	_, err := h.users.InsertOne(ctx, doc)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return dasherr.StoreUnavailable("CreateUser", err)
	}
	return nil
}

// BulkUpdateSkillStates implements persistence.Adapter with a single
// composite $set/$inc/$push update, so a reader never observes a
// partially-applied attempt.
func (h *Handler) BulkUpdateSkillStates(ctx context.Context, userID string, updates []persistence.SkillUpdate, attempt persistence.QuestionAttempt) error {
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now()
	}
	now := attempt.Timestamp

	set := bson.M{"last_updated": now}
	inc := bson.M{}
	for _, u := range updates {
		prefix := fmt.Sprintf("skill_states.%s", u.SkillID)
		set[prefix+".memory_strength"] = u.MemoryStrength
		set[prefix+".last_practice_time"] = now
		set[prefix+".last_updated"] = now
		inc[prefix+".practice_count"] = 1
		if u.DirectlyTested && attempt.IsCorrect {
			inc[prefix+".correct_count"] = 1
		}
	}

	attemptDoc := questionAttemptDoc{
		QuestionID:          attempt.QuestionID,
		SkillIDs:            attempt.SkillIDs,
		IsCorrect:           attempt.IsCorrect,
		ResponseTimeSeconds: attempt.ResponseTimeSeconds,
		TimePenaltyApplied:  attempt.TimePenaltyApplied,
		Timestamp:           now,
	}

	update := bson.M{
		"$set": set,
		"$push": bson.M{
			"question_history": bson.M{
				"$each":  []questionAttemptDoc{attemptDoc},
				"$slice": -h.historyCap,
			},
		},
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	res, err := h.users.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return dasherr.StoreUnavailable("BulkUpdateSkillStates", err)
	}
	if res.MatchedCount == 0 {
		return dasherr.NotFound("BulkUpdateSkillStates", "user %q", userID)
	}
	return nil
}

// SetSkillStrengths implements persistence.Adapter with a $set-only update:
// memory_strength changes for each skill in strengths, but
// last_practice_time/practice_count/correct_count are left untouched,
// matching cold start's (§4.5) and grade unlock's (§4.4) "not yet practiced"
// semantics.
func (h *Handler) SetSkillStrengths(ctx context.Context, userID string, strengths map[string]float64, attempt persistence.QuestionAttempt) error {
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now()
	}
	now := attempt.Timestamp

	set := bson.M{"last_updated": now}
	for id, strength := range strengths {
		set[fmt.Sprintf("skill_states.%s.memory_strength", id)] = strength
	}

	attemptDoc := questionAttemptDoc{
		QuestionID:          attempt.QuestionID,
		SkillIDs:            attempt.SkillIDs,
		IsCorrect:           attempt.IsCorrect,
		ResponseTimeSeconds: attempt.ResponseTimeSeconds,
		TimePenaltyApplied:  attempt.TimePenaltyApplied,
		Timestamp:           now,
	}

	update := bson.M{
		"$set": set,
		"$push": bson.M{
			"question_history": bson.M{
				"$each":  []questionAttemptDoc{attemptDoc},
				"$slice": -h.historyCap,
			},
		},
	}

	res, err := h.users.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return dasherr.StoreUnavailable("SetSkillStrengths", err)
	}
	if res.MatchedCount == 0 {
		return dasherr.NotFound("SetSkillStrengths", "user %q", userID)
	}
	return nil
}

// FindUnansweredQuestion implements persistence.Adapter with an atomic
// findOneAndUpdate: the times_shown increment happens as part of the same
// operation that selects the question, so two concurrent callers can never
// both be handed the same question for the same narrow window the
// original's separate find_one/update_one pair allowed.
func (h *Handler) FindUnansweredQuestion(ctx context.Context, skillIDs []string, answeredIDs map[string]bool, maxTimesShown int) (*persistence.Question, error) {
	answered := make([]string, 0, len(answeredIDs))
	for id := range answeredIDs {
		answered = append(answered, id)
	}

	filter := bson.M{
		"skill_ids":   bson.M{"$in": skillIDs},
		"question_id": bson.M{"$nin": answered},
		"times_shown": bson.M{"$lt": maxTimesShown},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "times_shown", Value: 1}}).
		SetReturnDocument(options.After)

	var doc questionDoc
	err := h.questions.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"times_shown": 1}}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, dasherr.StoreUnavailable("FindUnansweredQuestion", err)
	}

	return &persistence.Question{
		QuestionID: doc.QuestionID,
		SkillIDs:   doc.SkillIDs,
		Payload:    doc.Payload,
		TimesShown: doc.TimesShown,
	}, nil
}

// GetAnsweredQuestionIDs implements persistence.Adapter, projecting only
// the question_id field of question_history to avoid pulling full history.
func (h *Handler) GetAnsweredQuestionIDs(ctx context.Context, userID string) (map[string]bool, error) {
	projection := bson.M{"question_history.question_id": 1}
	var doc struct {
		QuestionHistory []struct {
			QuestionID string `bson:"question_id"`
		} `bson:"question_history"`
	}
	err := h.users.FindOne(ctx, bson.M{"user_id": userID}, options.FindOne().SetProjection(projection)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, dasherr.StoreUnavailable("GetAnsweredQuestionIDs", err)
	}
	out := make(map[string]bool, len(doc.QuestionHistory))
	for _, a := range doc.QuestionHistory {
		out[a.QuestionID] = true
	}
	return out, nil
}

// ListSkillDocuments implements persistence.Adapter, reading one document
// per subject and flattening its nested skills tree into leaf RawSkillDocs.
func (h *Handler) ListSkillDocuments(ctx context.Context) ([]skillcache.RawSkillDoc, error) {
	cur, err := h.skills.Find(ctx, bson.M{})
	if err != nil {
		return nil, dasherr.StoreUnavailable("ListSkillDocuments", err)
	}
	defer cur.Close(ctx)

	var docs []skillcache.RawSkillDoc
	for cur.Next(ctx) {
		var raw struct {
			Subject string `bson:"subject"`
			Skills  bson.M `bson:"skills"`
		}
		if err := cur.Decode(&raw); err != nil {
			return nil, dasherr.StoreUnavailable("decode skill document", err)
		}
		doc := skillcache.RawSkillDoc{
			Subject:  raw.Subject,
			Children: flattenTree(raw.Skills, raw.Subject),
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, dasherr.StoreUnavailable("iterate skill documents", err)
	}
	return docs, nil
}

// flattenTree mirrors _flatten_skills_tree: a node with a skill_id field
// is a leaf skill; every other dict-valued field is an intermediate
// grouping node to recurse into.
func flattenTree(node bson.M, subject string) []skillcache.RawSkillDoc {
	var out []skillcache.RawSkillDoc
	for _, v := range node {
		child, ok := v.(bson.M)
		if !ok {
			continue
		}
		if _, isLeaf := child["skill_id"]; isLeaf {
			out = append(out, skillcache.RawSkillDoc{
				Subject:        subject,
				Breadcrumb:     stringField(child, "breadcrumb"),
				GradeLevel:     intField(child, "grade_level"),
				Name:           stringField(child, "exercise_name"),
				ForgettingRate: floatField(child, "forgetting_rate", 0.1),
				Difficulty:     floatField(child, "difficulty", 0.5),
				Prerequisites:  stringSliceField(child, "prerequisites"),
			})
			continue
		}
		out = append(out, flattenTree(child, subject)...)
	}
	return out
}

func stringField(m bson.M, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m bson.M, key string) int {
	switch v := m[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatField(m bson.M, key string, fallback float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func stringSliceField(m bson.M, key string) []string {
	raw, ok := m[key].(bson.A)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

var _ persistence.Adapter = (*Handler)(nil)
