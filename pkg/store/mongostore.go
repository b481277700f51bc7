package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/arbiterhq/arbiter/pkg/model"
)

const (
	executionsCollection  = "executions"
	tokenUsageCollection  = "token_usage"
	definitionsCollection = "agent_definitions"

	mongoConnectTimeout = 10 * time.Second
	mongoIndexTimeout   = 30 * time.Second
)

// MongoStore implements Store on MongoDB collections. Executions are
// keyed by execution id and token records by their synthetic record id,
// both as the document _id.
type MongoStore struct {
	client      *mongo.Client
	executions  *mongo.Collection
	usage       *mongo.Collection
	definitions *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// executionDocument is the MongoDB representation of an AgentExecution.
type executionDocument struct {
	ExecutionID   string              `bson:"_id"`
	ClaimID       string              `bson:"claim_id"`
	WorkflowType  string              `bson:"workflow_type"`
	Status        string              `bson:"status"`
	StartedAt     time.Time           `bson:"started_at"`
	CompletedAt   time.Time           `bson:"completed_at"`
	DurationMS    int64               `bson:"duration_ms"`
	TotalTokens   int                 `bson:"total_tokens"`
	TotalCost     float64             `bson:"total_cost"`
	AgentsInvoked []string            `bson:"agents_invoked,omitempty"`
	AgentSteps    []stepDocument      `bson:"agent_steps,omitempty"`
	FinalResult   string              `bson:"final_result,omitempty"`
	ErrorMessage  string              `bson:"error_message,omitempty"`
	Evaluation    *evaluationDocument `bson:"evaluation,omitempty"`
}

type stepDocument struct {
	AgentType    string        `bson:"agent_type"`
	AgentVersion string        `bson:"agent_version,omitempty"`
	StartedAt    time.Time     `bson:"started_at"`
	CompletedAt  time.Time     `bson:"completed_at"`
	DurationMS   int64         `bson:"duration_ms"`
	InputData    string        `bson:"input_data,omitempty"`
	OutputData   string        `bson:"output_data,omitempty"`
	TokenUsage   usageDocument `bson:"token_usage"`
	Cost         float64       `bson:"cost"`
	Status       string        `bson:"status"`
}

type usageDocument struct {
	PromptTokens     int `bson:"prompt_tokens"`
	CompletionTokens int `bson:"completion_tokens"`
	TotalTokens      int `bson:"total_tokens"`
}

type evaluationDocument struct {
	ExecutionID  string    `bson:"execution_id"`
	ClaimID      string    `bson:"claim_id"`
	Groundedness float64   `bson:"groundedness"`
	Relevance    float64   `bson:"relevance"`
	Coherence    float64   `bson:"coherence"`
	Fluency      float64   `bson:"fluency"`
	Overall      float64   `bson:"overall"`
	Reasoning    string    `bson:"reasoning,omitempty"`
	Evaluator    string    `bson:"evaluator,omitempty"`
	EvaluatedAt  time.Time `bson:"evaluated_at"`
}

// tokenRecordDocument is the MongoDB representation of a TokenUsageRecord.
type tokenRecordDocument struct {
	RecordID         string    `bson:"_id"`
	SessionID        string    `bson:"session_id,omitempty"`
	UserID           string    `bson:"user_id,omitempty"`
	ClaimID          string    `bson:"claim_id,omitempty"`
	ExecutionID      string    `bson:"execution_id,omitempty"`
	TraceID          string    `bson:"trace_id,omitempty"`
	SpanID           string    `bson:"span_id,omitempty"`
	ServiceType      string    `bson:"service_type"`
	OperationType    string    `bson:"operation_type"`
	AgentType        string    `bson:"agent_type,omitempty"`
	Model            string    `bson:"model"`
	Deployment       string    `bson:"deployment,omitempty"`
	PromptTokens     int       `bson:"prompt_tokens"`
	CompletionTokens int       `bson:"completion_tokens"`
	TotalTokens      int       `bson:"total_tokens"`
	PromptCost       float64   `bson:"prompt_cost"`
	CompletionCost   float64   `bson:"completion_cost"`
	TotalCost        float64   `bson:"total_cost"`
	RecordedAt       time.Time `bson:"recorded_at"`
	DurationMS       int64     `bson:"duration_ms"`
	Success          bool      `bson:"success"`
	Error            string    `bson:"error,omitempty"`
	Estimated        bool      `bson:"estimated,omitempty"`
}

// definitionDocument is the MongoDB representation of an AgentDefinition.
type definitionDocument struct {
	Name            string             `bson:"_id"`
	Version         string             `bson:"version"`
	Instructions    string             `bson:"instructions,omitempty"`
	ModelDeployment string             `bson:"model_deployment,omitempty"`
	Temperature     float64            `bson:"temperature"`
	Tools           []toolSpecDocument `bson:"tools,omitempty"`
	IsActive        bool               `bson:"is_active"`
	VersionHistory  []versionDocument  `bson:"version_history,omitempty"`
	CreatedAt       time.Time          `bson:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at"`
}

type toolSpecDocument struct {
	Name        string         `bson:"name"`
	Type        string         `bson:"type,omitempty"`
	Description string         `bson:"description,omitempty"`
	Parameters  map[string]any `bson:"parameters,omitempty"`
}

type versionDocument struct {
	Version         string    `bson:"version"`
	Instructions    string    `bson:"instructions,omitempty"`
	ModelDeployment string    `bson:"model_deployment,omitempty"`
	Temperature     float64   `bson:"temperature"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// NewMongoStore creates a MongoDB store using collections from the given
// database. The client should already be connected.
func NewMongoStore(client *mongo.Client, database string) (*MongoStore, error) {
	if client == nil {
		return nil, fmt.Errorf("mongo client is required")
	}
	if database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	db := client.Database(database)
	s := &MongoStore{
		client:      client,
		executions:  db.Collection(executionsCollection),
		usage:       db.Collection(tokenUsageCollection),
		definitions: db.Collection(definitionsCollection),
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoIndexTimeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

// OpenMongoStore connects to the given URI and returns an index-initialized
// store on the named database.
func OpenMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return NewMongoStore(client, database)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	executionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "claim_id", Value: 1}}},
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
	}
	if _, err := s.executions.Indexes().CreateMany(ctx, executionIndexes); err != nil {
		return err
	}
	usageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "claim_id", Value: 1}}},
		{Keys: bson.D{{Key: "agent_type", Value: 1}}},
		{Keys: bson.D{{Key: "recorded_at", Value: -1}}},
	}
	if _, err := s.usage.Indexes().CreateMany(ctx, usageIndexes); err != nil {
		return err
	}
	return nil
}

// SaveExecution implements Store.
func (s *MongoStore) SaveExecution(ctx context.Context, exec *model.AgentExecution) error {
	if exec == nil || exec.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}
	doc := toExecutionDocument(exec)
	opts := options.Replace().SetUpsert(true)
	if _, err := s.executions.ReplaceOne(ctx, bson.M{"_id": exec.ExecutionID}, doc, opts); err != nil {
		return fmt.Errorf("mongodb save execution %q: %w", exec.ExecutionID, err)
	}
	return nil
}

// GetExecution implements Store.
func (s *MongoStore) GetExecution(ctx context.Context, executionID string) (*model.AgentExecution, error) {
	var doc executionDocument
	err := s.executions.FindOne(ctx, bson.M{"_id": executionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
		}
		return nil, fmt.Errorf("mongodb get execution %q: %w", executionID, err)
	}
	return fromExecutionDocument(&doc), nil
}

// ListExecutions implements Store.
func (s *MongoStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*model.AgentExecution, error) {
	query := bson.M{}
	if filter.ClaimID != "" {
		query["claim_id"] = filter.ClaimID
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.WorkflowType != "" {
		query["workflow_type"] = filter.WorkflowType
	}
	if !filter.Since.IsZero() {
		query["started_at"] = bson.M{"$gte": filter.Since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.executions.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list executions: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []executionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list executions decode: %w", err)
	}

	out := make([]*model.AgentExecution, len(docs))
	for i := range docs {
		out[i] = fromExecutionDocument(&docs[i])
	}
	return out, nil
}

// ClaimHistory implements Store.
func (s *MongoStore) ClaimHistory(ctx context.Context, claimID string) ([]*model.AgentExecution, error) {
	return s.ListExecutions(ctx, ExecutionFilter{ClaimID: claimID})
}

// SaveTokenUsage implements Store.
func (s *MongoStore) SaveTokenUsage(ctx context.Context, record *model.TokenUsageRecord) error {
	if record == nil || record.RecordID == "" {
		return fmt.Errorf("record id is required")
	}
	doc := toTokenRecordDocument(record)
	if _, err := s.usage.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongodb save token usage %q: %w", record.RecordID, err)
	}
	return nil
}

// TokenUsageByClaim implements Store.
func (s *MongoStore) TokenUsageByClaim(ctx context.Context, claimID string) ([]*model.TokenUsageRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}})
	return s.findUsage(ctx, bson.M{"claim_id": claimID}, opts)
}

// ListTokenUsage implements Store.
func (s *MongoStore) ListTokenUsage(ctx context.Context, filter TokenUsageFilter) ([]*model.TokenUsageRecord, error) {
	query := bson.M{}
	if filter.ClaimID != "" {
		query["claim_id"] = filter.ClaimID
	}
	if filter.AgentType != "" {
		query["agent_type"] = filter.AgentType
	}
	if !filter.Since.IsZero() {
		query["recorded_at"] = bson.M{"$gte": filter.Since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return s.findUsage(ctx, query, opts)
}

func (s *MongoStore) findUsage(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*model.TokenUsageRecord, error) {
	cursor, err := s.usage.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list token usage: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []tokenRecordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list token usage decode: %w", err)
	}

	out := make([]*model.TokenUsageRecord, len(docs))
	for i := range docs {
		out[i] = fromTokenRecordDocument(&docs[i])
	}
	return out, nil
}

// SaveAgentDefinition implements Store.
func (s *MongoStore) SaveAgentDefinition(ctx context.Context, def *model.AgentDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	doc := toDefinitionDocument(def)
	opts := options.Replace().SetUpsert(true)
	if _, err := s.definitions.ReplaceOne(ctx, bson.M{"_id": def.Name}, doc, opts); err != nil {
		return fmt.Errorf("mongodb save agent definition %q: %w", def.Name, err)
	}
	return nil
}

// GetAgentDefinition implements Store.
func (s *MongoStore) GetAgentDefinition(ctx context.Context, name string) (*model.AgentDefinition, error) {
	var doc definitionDocument
	err := s.definitions.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("agent definition %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("mongodb get agent definition %q: %w", name, err)
	}
	return fromDefinitionDocument(&doc), nil
}

// ListAgentDefinitions implements Store.
func (s *MongoStore) ListAgentDefinitions(ctx context.Context, filter DefinitionFilter) ([]*model.AgentDefinition, error) {
	query := bson.M{}
	if filter.ActiveOnly {
		query["is_active"] = true
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.definitions.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list agent definitions: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []definitionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list agent definitions decode: %w", err)
	}

	out := make([]*model.AgentDefinition, len(docs))
	for i := range docs {
		out[i] = fromDefinitionDocument(&docs[i])
	}
	return out, nil
}

// Close implements Store.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func toExecutionDocument(exec *model.AgentExecution) *executionDocument {
	steps := make([]stepDocument, len(exec.AgentSteps))
	for i, st := range exec.AgentSteps {
		steps[i] = stepDocument{
			AgentType:    st.AgentType,
			AgentVersion: st.AgentVersion,
			StartedAt:    st.StartedAt,
			CompletedAt:  st.CompletedAt,
			DurationMS:   st.DurationMS,
			InputData:    st.InputData,
			OutputData:   st.OutputData,
			TokenUsage: usageDocument{
				PromptTokens:     st.TokenUsage.PromptTokens,
				CompletionTokens: st.TokenUsage.CompletionTokens,
				TotalTokens:      st.TokenUsage.TotalTokens,
			},
			Cost:   st.Cost,
			Status: string(st.Status),
		}
	}

	var evaluation *evaluationDocument
	if exec.Evaluation != nil {
		ev := exec.Evaluation
		evaluation = &evaluationDocument{
			ExecutionID:  ev.ExecutionID,
			ClaimID:      ev.ClaimID,
			Groundedness: ev.Groundedness,
			Relevance:    ev.Relevance,
			Coherence:    ev.Coherence,
			Fluency:      ev.Fluency,
			Overall:      ev.Overall,
			Reasoning:    ev.Reasoning,
			Evaluator:    ev.Evaluator,
			EvaluatedAt:  ev.EvaluatedAt,
		}
	}

	return &executionDocument{
		ExecutionID:   exec.ExecutionID,
		ClaimID:       exec.ClaimID,
		WorkflowType:  exec.WorkflowType,
		Status:        string(exec.Status),
		StartedAt:     exec.StartedAt,
		CompletedAt:   exec.CompletedAt,
		DurationMS:    exec.DurationMS,
		TotalTokens:   exec.TotalTokens,
		TotalCost:     exec.TotalCost,
		AgentsInvoked: exec.AgentsInvoked,
		AgentSteps:    steps,
		FinalResult:   exec.FinalResult,
		ErrorMessage:  exec.ErrorMessage,
		Evaluation:    evaluation,
	}
}

func fromExecutionDocument(doc *executionDocument) *model.AgentExecution {
	steps := make([]model.AgentStepExecution, len(doc.AgentSteps))
	for i, st := range doc.AgentSteps {
		steps[i] = model.AgentStepExecution{
			AgentType:    st.AgentType,
			AgentVersion: st.AgentVersion,
			StartedAt:    st.StartedAt,
			CompletedAt:  st.CompletedAt,
			DurationMS:   st.DurationMS,
			InputData:    st.InputData,
			OutputData:   st.OutputData,
			TokenUsage: model.TokenUsage{
				PromptTokens:     st.TokenUsage.PromptTokens,
				CompletionTokens: st.TokenUsage.CompletionTokens,
				TotalTokens:      st.TokenUsage.TotalTokens,
			},
			Cost:   st.Cost,
			Status: model.ExecutionStatus(st.Status),
		}
	}

	var evaluation *model.EvaluationResult
	if doc.Evaluation != nil {
		ev := doc.Evaluation
		evaluation = &model.EvaluationResult{
			ExecutionID:  ev.ExecutionID,
			ClaimID:      ev.ClaimID,
			Groundedness: ev.Groundedness,
			Relevance:    ev.Relevance,
			Coherence:    ev.Coherence,
			Fluency:      ev.Fluency,
			Overall:      ev.Overall,
			Reasoning:    ev.Reasoning,
			Evaluator:    ev.Evaluator,
			EvaluatedAt:  ev.EvaluatedAt,
		}
	}

	return &model.AgentExecution{
		ExecutionID:   doc.ExecutionID,
		ClaimID:       doc.ClaimID,
		WorkflowType:  doc.WorkflowType,
		Status:        model.ExecutionStatus(doc.Status),
		StartedAt:     doc.StartedAt,
		CompletedAt:   doc.CompletedAt,
		DurationMS:    doc.DurationMS,
		TotalTokens:   doc.TotalTokens,
		TotalCost:     doc.TotalCost,
		AgentsInvoked: doc.AgentsInvoked,
		AgentSteps:    steps,
		FinalResult:   doc.FinalResult,
		ErrorMessage:  doc.ErrorMessage,
		Evaluation:    evaluation,
	}
}

func toTokenRecordDocument(r *model.TokenUsageRecord) *tokenRecordDocument {
	return &tokenRecordDocument{
		RecordID:         r.RecordID,
		SessionID:        r.SessionID,
		UserID:           r.UserID,
		ClaimID:          r.ClaimID,
		ExecutionID:      r.ExecutionID,
		TraceID:          r.TraceID,
		SpanID:           r.SpanID,
		ServiceType:      r.ServiceType,
		OperationType:    r.OperationType,
		AgentType:        r.AgentType,
		Model:            r.Model,
		Deployment:       r.Deployment,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		PromptCost:       r.PromptCost,
		CompletionCost:   r.CompletionCost,
		TotalCost:        r.TotalCost,
		RecordedAt:       r.Timestamp,
		DurationMS:       r.DurationMS,
		Success:          r.Success,
		Error:            r.Error,
		Estimated:        r.Estimated,
	}
}

func fromTokenRecordDocument(doc *tokenRecordDocument) *model.TokenUsageRecord {
	return &model.TokenUsageRecord{
		RecordID:         doc.RecordID,
		SessionID:        doc.SessionID,
		UserID:           doc.UserID,
		ClaimID:          doc.ClaimID,
		ExecutionID:      doc.ExecutionID,
		TraceID:          doc.TraceID,
		SpanID:           doc.SpanID,
		ServiceType:      doc.ServiceType,
		OperationType:    doc.OperationType,
		AgentType:        doc.AgentType,
		Model:            doc.Model,
		Deployment:       doc.Deployment,
		PromptTokens:     doc.PromptTokens,
		CompletionTokens: doc.CompletionTokens,
		TotalTokens:      doc.TotalTokens,
		PromptCost:       doc.PromptCost,
		CompletionCost:   doc.CompletionCost,
		TotalCost:        doc.TotalCost,
		Timestamp:        doc.RecordedAt,
		DurationMS:       doc.DurationMS,
		Success:          doc.Success,
		Error:            doc.Error,
		Estimated:        doc.Estimated,
	}
}

func toDefinitionDocument(def *model.AgentDefinition) *definitionDocument {
	tools := make([]toolSpecDocument, len(def.Tools))
	for i, t := range def.Tools {
		tools[i] = toolSpecDocument{
			Name:        t.Name,
			Type:        t.Type,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	history := make([]versionDocument, len(def.VersionHistory))
	for i, v := range def.VersionHistory {
		history[i] = versionDocument{
			Version:         v.Version,
			Instructions:    v.Instructions,
			ModelDeployment: v.ModelDeployment,
			Temperature:     v.Temperature,
			UpdatedAt:       v.UpdatedAt,
		}
	}

	return &definitionDocument{
		Name:            def.Name,
		Version:         def.Version,
		Instructions:    def.Instructions,
		ModelDeployment: def.ModelDeployment,
		Temperature:     def.Temperature,
		Tools:           tools,
		IsActive:        def.IsActive,
		VersionHistory:  history,
		CreatedAt:       def.CreatedAt,
		UpdatedAt:       def.UpdatedAt,
	}
}

func fromDefinitionDocument(doc *definitionDocument) *model.AgentDefinition {
	tools := make([]model.ToolSpec, len(doc.Tools))
	for i, t := range doc.Tools {
		tools[i] = model.ToolSpec{
			Name:        t.Name,
			Type:        t.Type,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	history := make([]model.AgentVersion, len(doc.VersionHistory))
	for i, v := range doc.VersionHistory {
		history[i] = model.AgentVersion{
			Version:         v.Version,
			Instructions:    v.Instructions,
			ModelDeployment: v.ModelDeployment,
			Temperature:     v.Temperature,
			UpdatedAt:       v.UpdatedAt,
		}
	}

	return &model.AgentDefinition{
		Name:            doc.Name,
		Version:         doc.Version,
		Instructions:    doc.Instructions,
		ModelDeployment: doc.ModelDeployment,
		Temperature:     doc.Temperature,
		Tools:           tools,
		IsActive:        doc.IsActive,
		VersionHistory:  history,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}
