// ============================================================================
// backend/internal/store/mongo.go
// MongoDB backend
// ============================================================================

package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"schoolpoints/backend/internal/shared"
)

// NewMongo wraps an already connected client. The store owns the client from
// here on and disconnects it on Close.
func NewMongo(client *mongo.Client, db *mongo.Database, cfg *shared.MongoConfig, logger *zap.Logger) *Store {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := mongoBase{timeout: timeout}
	mb := &mongoBackend{client: client, db: db, useTx: cfg.UseTransactions, logger: logger}

	return &Store{
		EventDays:  &mongoEventDays{mongoBase: base, col: db.Collection(ColEvents)},
		Classrooms: &mongoClassrooms{mongoBase: base, col: db.Collection(ColClassrooms)},
		Users:      &mongoUsers{mongoBase: base, col: db.Collection(ColUsers)},
		EventTypes: &mongoEventTypes{mongoBase: base, col: db.Collection(ColEventTypes)},
		Settings:   &mongoSettings{mongoBase: base, col: db.Collection(ColSettings)},
		Milestones: &mongoMilestones{mongoBase: base, col: db.Collection(ColWeekMilestones)},
		backend:    mb,
	}
}

// EnsureIndexes creates the indexes the repositories rely on.
// The (date, classroom_id) index is what makes lazy event-day creation safe.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		ColEvents: {
			{Keys: bson.D{{Key: "date", Value: 1}, {Key: "classroom_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_date_classroom")},
			{Keys: bson.D{{Key: "academic_year", Value: 1}, {Key: "approval_status", Value: 1}, {Key: "date", Value: 1}}},
		},
		ColUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$type": "string"}})},
			{Keys: bson.D{{Key: "role", Value: 1}, {Key: "classroom_id", Value: 1}}},
		},
		ColClassrooms: {
			{Keys: bson.D{{Key: "homeroom_teacher_id", Value: 1}}},
			{Keys: bson.D{{Key: "grade", Value: 1}, {Key: "full_name", Value: 1}}},
		},
		ColSettings: {
			{Keys: bson.D{{Key: "key", Value: 1}, {Key: "academic_year", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		ColWeekMilestones: {
			{Keys: bson.D{{Key: "academic_year", Value: 1}, {Key: "is_active", Value: 1}}},
		},
	}

	for col, models := range specs {
		if _, err := db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes on %s", col)
		}
	}
	return nil
}

// ============================================================================
// Backend lifecycle
// ============================================================================

type mongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
	useTx  bool
	logger *zap.Logger
}

func (b *mongoBackend) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return b.client.Ping(pingCtx, readpref.Primary())
}

func (b *mongoBackend) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.useTx {
		return fn(ctx)
	}
	b.logger.Debug("starting mongo transaction")
	return shared.WithTransaction(ctx, b.client, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
}

func (b *mongoBackend) Close(ctx context.Context) error {
	return shared.DisconnectMongoDB(b.client)
}

// ============================================================================
// Common helpers
// ============================================================================

type mongoBase struct {
	timeout time.Duration
}

func (m mongoBase) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, m.timeout)
}

func (m mongoBase) findOne(ctx context.Context, col *mongo.Collection, filter interface{}, out interface{}) error {
	err := shared.FindOneWithTimeout(ctx, col, filter, out, m.timeout)
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	return errors.Wrapf(err, "find one in %s", col.Name())
}

func (m mongoBase) insert(ctx context.Context, col *mongo.Collection, doc interface{}) error {
	qctx, cancel := m.ctx(ctx)
	defer cancel()
	if _, err := col.InsertOne(qctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return errors.Wrapf(err, "insert into %s", col.Name())
	}
	return nil
}

func (m mongoBase) replace(ctx context.Context, col *mongo.Collection, id string, doc interface{}) error {
	qctx, cancel := m.ctx(ctx)
	defer cancel()
	res, err := col.ReplaceOne(qctx, bson.M{"_id": id}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return errors.Wrapf(err, "replace in %s", col.Name())
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m mongoBase) delete(ctx context.Context, col *mongo.Collection, id string) error {
	qctx, cancel := m.ctx(ctx)
	defer cancel()
	res, err := col.DeleteOne(qctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "delete from %s", col.Name())
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func findAll[T any](ctx context.Context, m mongoBase, col *mongo.Collection, filter interface{}, opts *options.FindOptions) ([]*T, error) {
	qctx, cancel := m.ctx(ctx)
	defer cancel()

	cursor, err := col.Find(qctx, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "find in %s", col.Name())
	}
	defer cursor.Close(qctx)

	out := []*T{}
	for cursor.Next(qctx) {
		item := new(T)
		if err := cursor.Decode(item); err != nil {
			return nil, errors.Wrapf(err, "decode %s", col.Name())
		}
		out = append(out, item)
	}
	return out, errors.Wrapf(cursor.Err(), "iterate %s", col.Name())
}

// ============================================================================
// Event days
// ============================================================================

type mongoEventDays struct {
	mongoBase
	col *mongo.Collection
}

func eventDayQuery(f EventDayFilter) bson.M {
	q := bson.M{}
	if f.ClassroomIDs != nil {
		q["classroom_id"] = bson.M{"$in": f.ClassroomIDs}
	}
	if f.Date != "" {
		q["date"] = f.Date
	} else if f.DateFrom != "" || f.DateTo != "" {
		rng := bson.M{}
		if f.DateFrom != "" {
			rng["$gte"] = f.DateFrom
		}
		if f.DateTo != "" {
			rng["$lte"] = f.DateTo
		}
		q["date"] = rng
	}
	if f.AcademicYear != "" {
		q["academic_year"] = f.AcademicYear
	}
	if f.ApprovalStatus != "" {
		q["approval_status"] = f.ApprovalStatus
	}
	if f.WithPeriod != "" {
		q["periods."+f.WithPeriod+".0"] = bson.M{"$exists": true}
	}
	return q
}

func (r *mongoEventDays) Get(ctx context.Context, id string) (*shared.EventDay, error) {
	var day shared.EventDay
	if err := r.findOne(ctx, r.col, bson.M{"_id": id}, &day); err != nil {
		return nil, err
	}
	return normalizeDay(&day), nil
}

func (r *mongoEventDays) FindByKey(ctx context.Context, date, classroomID string) (*shared.EventDay, error) {
	var day shared.EventDay
	if err := r.findOne(ctx, r.col, bson.M{"date": date, "classroom_id": classroomID}, &day); err != nil {
		return nil, err
	}
	return normalizeDay(&day), nil
}

func (r *mongoEventDays) Insert(ctx context.Context, day *shared.EventDay) error {
	day.Version = 1
	return r.insert(ctx, r.col, day)
}

func (r *mongoEventDays) Replace(ctx context.Context, day *shared.EventDay) error {
	qctx, cancel := r.ctx(ctx)
	defer cancel()

	expected := day.Version
	next := day.Clone()
	next.Version = expected + 1

	res, err := r.col.ReplaceOne(qctx, bson.M{"_id": day.ID, "version": expected}, next)
	if err != nil {
		return errors.Wrap(err, "replace event day")
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	day.Version = next.Version
	return nil
}

func (r *mongoEventDays) List(ctx context.Context, filter EventDayFilter, skip, limit int) ([]*shared.EventDay, error) {
	opts := shared.BuildFindOptions(int64(skip), int64(limit), bson.D{{Key: "date", Value: -1}, {Key: "classroom_id", Value: 1}})
	days, err := findAll[shared.EventDay](ctx, r.mongoBase, r.col, eventDayQuery(filter), opts)
	for _, d := range days {
		normalizeDay(d)
	}
	return days, err
}

func (r *mongoEventDays) Count(ctx context.Context, filter EventDayFilter) (int64, error) {
	return shared.CountDocumentsWithTimeout(ctx, r.col, eventDayQuery(filter), r.timeout)
}

// normalizeDay guarantees a non-nil periods map on decoded documents
func normalizeDay(d *shared.EventDay) *shared.EventDay {
	if d.Periods == nil {
		d.Periods = map[string][]shared.EventEntry{}
	}
	return d
}

// ============================================================================
// Classrooms
// ============================================================================

type mongoClassrooms struct {
	mongoBase
	col *mongo.Collection
}

func classroomQuery(f ClassroomFilter) bson.M {
	q := bson.M{}
	if f.Grade != "" {
		q["grade"] = f.Grade
	}
	if f.Search != "" {
		q["$or"] = []bson.M{
			{"full_name": shared.RegexContains(f.Search)},
			{"name": shared.RegexContains(f.Search)},
		}
	}
	return q
}

var classroomSort = bson.D{{Key: "grade", Value: 1}, {Key: "full_name", Value: 1}}

func (r *mongoClassrooms) Get(ctx context.Context, id string) (*shared.Classroom, error) {
	var c shared.Classroom
	if err := r.findOne(ctx, r.col, bson.M{"_id": id}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *mongoClassrooms) GetMany(ctx context.Context, ids []string) ([]*shared.Classroom, error) {
	if len(ids) == 0 {
		return []*shared.Classroom{}, nil
	}
	return findAll[shared.Classroom](ctx, r.mongoBase, r.col, bson.M{"_id": bson.M{"$in": ids}}, shared.BuildFindOptions(0, 0, classroomSort))
}

func (r *mongoClassrooms) List(ctx context.Context, filter ClassroomFilter, skip, limit int) ([]*shared.Classroom, error) {
	return findAll[shared.Classroom](ctx, r.mongoBase, r.col, classroomQuery(filter), shared.BuildFindOptions(int64(skip), int64(limit), classroomSort))
}

func (r *mongoClassrooms) Count(ctx context.Context, filter ClassroomFilter) (int64, error) {
	return shared.CountDocumentsWithTimeout(ctx, r.col, classroomQuery(filter), r.timeout)
}

func (r *mongoClassrooms) FindByHomeroomTeacher(ctx context.Context, teacherID string) ([]*shared.Classroom, error) {
	return findAll[shared.Classroom](ctx, r.mongoBase, r.col, bson.M{"homeroom_teacher_id": teacherID}, shared.BuildFindOptions(0, 0, classroomSort))
}

func (r *mongoClassrooms) Insert(ctx context.Context, c *shared.Classroom) error {
	return r.insert(ctx, r.col, c)
}

func (r *mongoClassrooms) Update(ctx context.Context, c *shared.Classroom) error {
	return r.replace(ctx, r.col, c.ID, c)
}

func (r *mongoClassrooms) Delete(ctx context.Context, id string) error {
	return r.delete(ctx, r.col, id)
}

func (r *mongoClassrooms) IncrementStudentCount(ctx context.Context, id string, delta int) error {
	qctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.col.UpdateOne(qctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"student_count": delta},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return errors.Wrap(err, "increment student count")
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Users
// ============================================================================

type mongoUsers struct {
	mongoBase
	col *mongo.Collection
}

func userQuery(f UserFilter) bson.M {
	q := bson.M{}
	if f.Role != "" {
		q["role"] = f.Role
	}
	if f.ClassroomID != "" {
		q["classroom_id"] = f.ClassroomID
	}
	if f.Gender != "" {
		q["gender"] = f.Gender
	}
	if f.Subject != "" {
		q["subject"] = f.Subject
	}
	if f.Search != "" {
		q["$or"] = []bson.M{
			{"full_name": shared.RegexContains(f.Search)},
			{"student_code": shared.RegexContains(f.Search)},
			{"teacher_code": shared.RegexContains(f.Search)},
			{"email": shared.RegexContains(f.Search)},
		}
	}
	return q
}

var userSort = bson.D{{Key: "full_name", Value: 1}}

func (r *mongoUsers) Get(ctx context.Context, id string) (*shared.User, error) {
	var u shared.User
	if err := r.findOne(ctx, r.col, bson.M{"_id": id}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *mongoUsers) GetMany(ctx context.Context, ids []string) ([]*shared.User, error) {
	if len(ids) == 0 {
		return []*shared.User{}, nil
	}
	return findAll[shared.User](ctx, r.mongoBase, r.col, bson.M{"_id": bson.M{"$in": ids}}, shared.BuildFindOptions(0, 0, userSort))
}

func (r *mongoUsers) FindByEmail(ctx context.Context, email string) (*shared.User, error) {
	var u shared.User
	if err := r.findOne(ctx, r.col, bson.M{"email": email}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *mongoUsers) List(ctx context.Context, filter UserFilter, skip, limit int) ([]*shared.User, error) {
	return findAll[shared.User](ctx, r.mongoBase, r.col, userQuery(filter), shared.BuildFindOptions(int64(skip), int64(limit), userSort))
}

func (r *mongoUsers) Count(ctx context.Context, filter UserFilter) (int64, error) {
	return shared.CountDocumentsWithTimeout(ctx, r.col, userQuery(filter), r.timeout)
}

func (r *mongoUsers) Insert(ctx context.Context, u *shared.User) error {
	return r.insert(ctx, r.col, u)
}

func (r *mongoUsers) Update(ctx context.Context, u *shared.User) error {
	return r.replace(ctx, r.col, u.ID, u)
}

func (r *mongoUsers) Delete(ctx context.Context, id string) error {
	return r.delete(ctx, r.col, id)
}

// ============================================================================
// Event types
// ============================================================================

type mongoEventTypes struct {
	mongoBase
	col *mongo.Collection
}

func (r *mongoEventTypes) List(ctx context.Context, activeOnly bool) ([]*shared.EventType, error) {
	q := bson.M{}
	if activeOnly {
		q["is_active"] = true
	}
	return findAll[shared.EventType](ctx, r.mongoBase, r.col, q, shared.BuildFindOptions(0, 0, bson.D{{Key: "category", Value: 1}, {Key: "_id", Value: 1}}))
}

func (r *mongoEventTypes) Get(ctx context.Context, key string) (*shared.EventType, error) {
	var t shared.EventType
	if err := r.findOne(ctx, r.col, bson.M{"_id": key}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *mongoEventTypes) Insert(ctx context.Context, t *shared.EventType) error {
	return r.insert(ctx, r.col, t)
}

func (r *mongoEventTypes) Update(ctx context.Context, t *shared.EventType) error {
	return r.replace(ctx, r.col, t.Key, t)
}

func (r *mongoEventTypes) Delete(ctx context.Context, key string) error {
	return r.delete(ctx, r.col, key)
}

// ============================================================================
// Settings
// ============================================================================

type mongoSettings struct {
	mongoBase
	col *mongo.Collection
}

func (r *mongoSettings) GetAcademicYear(ctx context.Context, academicYear string) (*shared.AcademicYearSettings, error) {
	var s shared.AcademicYearSettings
	filter := bson.M{"key": shared.AcademicYearSettingsKey, "academic_year": academicYear}
	if err := r.findOne(ctx, r.col, filter, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *mongoSettings) SaveAcademicYear(ctx context.Context, s *shared.AcademicYearSettings) error {
	qctx, cancel := r.ctx(ctx)
	defer cancel()
	s.Key = shared.AcademicYearSettingsKey
	_, err := r.col.ReplaceOne(qctx,
		bson.M{"key": s.Key, "academic_year": s.AcademicYear},
		s,
		options.Replace().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "save academic year settings")
}

// ============================================================================
// Week milestones
// ============================================================================

type mongoMilestones struct {
	mongoBase
	col *mongo.Collection
}

func (r *mongoMilestones) FindActive(ctx context.Context, academicYear string) (*shared.WeekMilestone, error) {
	qctx, cancel := r.ctx(ctx)
	defer cancel()
	var m shared.WeekMilestone
	err := r.col.FindOne(qctx,
		bson.M{"academic_year": academicYear, "is_active": true},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find active milestone")
	}
	return &m, nil
}

func (r *mongoMilestones) Insert(ctx context.Context, m *shared.WeekMilestone) error {
	return r.insert(ctx, r.col, m)
}

func (r *mongoMilestones) DeactivateAll(ctx context.Context, academicYear string) error {
	qctx, cancel := r.ctx(ctx)
	defer cancel()
	_, err := r.col.UpdateMany(qctx,
		bson.M{"academic_year": academicYear, "is_active": true},
		bson.M{"$set": bson.M{"is_active": false}},
	)
	return errors.Wrap(err, "deactivate milestones")
}
