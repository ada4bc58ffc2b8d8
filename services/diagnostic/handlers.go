package diagnostic

import (
	"time"

	"go.uber.org/zap"
)

// One handler per service, all sharing the root logger. Each implements the
// owning service's Diagnostic interface.

type StorageHandler struct {
	l *zap.Logger
}

func (s *Service) NewStorageHandler() *StorageHandler {
	return &StorageHandler{l: s.named("storage")}
}

func (h *StorageHandler) Connected(addr string) {
	h.l.Info("connected to key-value store", zap.String("addr", addr))
}

func (h *StorageHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type PostgresHandler struct {
	l *zap.Logger
}

func (s *Service) NewPostgresHandler() *PostgresHandler {
	return &PostgresHandler{l: s.named("postgres")}
}

func (h *PostgresHandler) Connected() {
	h.l.Info("connected to database")
}

func (h *PostgresHandler) Disabled() {
	h.l.Info("no database configured; audit, guides and persisted config are off")
}

func (h *PostgresHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type DedupHandler struct {
	l *zap.Logger
}

func (s *Service) NewDedupHandler() *DedupHandler {
	return &DedupHandler{l: s.named("dedup")}
}

func (h *DedupHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type IncidentHandler struct {
	l *zap.Logger
}

func (s *Service) NewIncidentHandler() *IncidentHandler {
	return &IncidentHandler{l: s.named("incident")}
}

func (h *IncidentHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type RulesHandler struct {
	l *zap.Logger
}

func (s *Service) NewRulesHandler() *RulesHandler {
	return &RulesHandler{l: s.named("rules")}
}

func (h *RulesHandler) LoadedFromFile(path string, count int) {
	h.l.Info("loaded rule config from file", zap.String("path", path), zap.Int("rules", count))
}

func (h *RulesHandler) LoadedFromDatabase(count int) {
	h.l.Info("loaded persisted rule config", zap.Int("rules", count))
}

func (h *RulesHandler) MergedFileOverDatabase(added int) {
	h.l.Info("merged file config over persisted config", zap.Int("added", added))
}

func (h *RulesHandler) Reloaded(count int) {
	h.l.Info("reloaded rule config", zap.Int("rules", count))
}

func (h *RulesHandler) Pushed(count int) {
	h.l.Info("pushed rule config", zap.Int("rules", count))
}

func (h *RulesHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type GuidesHandler struct {
	l *zap.Logger
}

func (s *Service) NewGuidesHandler() *GuidesHandler {
	return &GuidesHandler{l: s.named("guides")}
}

func (h *GuidesHandler) GuideSaved(ruleName, by string) {
	h.l.Info("troubleshooting guide saved", zap.String("rule", ruleName), zap.String("by", by))
}

func (h *GuidesHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type AuditHandler struct {
	l *zap.Logger
}

func (s *Service) NewAuditHandler() *AuditHandler {
	return &AuditHandler{l: s.named("audit")}
}

func (h *AuditHandler) RetentionDisabled() {
	h.l.Info("audit retention disabled")
}

func (h *AuditHandler) SweepCompleted(deleted int64, took time.Duration) {
	h.l.Debug("audit retention sweep completed",
		zap.Int64("deleted", deleted), zap.Duration("took", took))
}

func (h *AuditHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type ChatHandler struct {
	l *zap.Logger
}

func (s *Service) NewChatHandler() *ChatHandler {
	return &ChatHandler{l: s.named("chat")}
}

func (h *ChatHandler) MessageCreated(key, channelID, messageID string) {
	h.l.Info("mirror message created",
		zap.String("incident", key), zap.String("channel", channelID), zap.String("message", messageID))
}

func (h *ChatHandler) MessageEdited(key, messageID string) {
	h.l.Debug("mirror message edited",
		zap.String("incident", key), zap.String("message", messageID))
}

func (h *ChatHandler) ThreadCreated(key, threadID string) {
	h.l.Info("incident thread created",
		zap.String("incident", key), zap.String("thread", threadID))
}

func (h *ChatHandler) Acknowledged(key, by string) {
	h.l.Info("incident acknowledged", zap.String("incident", key), zap.String("by", by))
}

func (h *ChatHandler) Resolved(key, by string) {
	h.l.Info("incident resolved", zap.String("incident", key), zap.String("by", by))
}

func (h *ChatHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type ProcessorHandler struct {
	l *zap.Logger
}

func (s *Service) NewProcessorHandler() *ProcessorHandler {
	return &ProcessorHandler{l: s.named("processor")}
}

func (h *ProcessorHandler) Suppressed(key, reason string) {
	h.l.Debug("alert suppressed", zap.String("incident", key), zap.String("reason", reason))
}

func (h *ProcessorHandler) ExpiredRecordDropped(key, state string) {
	h.l.Info("expired incident record dropped",
		zap.String("incident", key), zap.String("state", state))
}

func (h *ProcessorHandler) Emitted(key, messageID string) {
	h.l.Info("alert emitted", zap.String("incident", key), zap.String("message", messageID))
}

func (h *ProcessorHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type EscalationHandler struct {
	l *zap.Logger
}

func (s *Service) NewEscalationHandler() *EscalationHandler {
	return &EscalationHandler{l: s.named("escalation")}
}

func (h *EscalationHandler) StartingService() {
	h.l.Info("starting escalation loop")
}

func (h *EscalationHandler) StoppedService() {
	h.l.Info("escalation loop stopped")
}

func (h *EscalationHandler) Escalated(key, mention string, level int) {
	h.l.Info("incident escalated",
		zap.String("incident", key), zap.String("mention", mention), zap.Int("level", level))
}

func (h *EscalationHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type ReconcileHandler struct {
	l *zap.Logger
}

func (s *Service) NewReconcileHandler() *ReconcileHandler {
	return &ReconcileHandler{l: s.named("reconcile")}
}

func (h *ReconcileHandler) StartingService() {
	h.l.Info("starting reconciler")
}

func (h *ReconcileHandler) StoppedService() {
	h.l.Info("reconciler stopped")
}

func (h *ReconcileHandler) OrphanDeleted(key, reason string) {
	h.l.Info("orphaned incident deleted",
		zap.String("incident", key), zap.String("reason", reason))
}

func (h *ReconcileHandler) ThreadDetached(key, threadID string) {
	h.l.Info("inaccessible thread detached",
		zap.String("incident", key), zap.String("thread", threadID))
}

func (h *ReconcileHandler) SweepCompleted(scanned, deleted int) {
	h.l.Debug("reconcile sweep completed",
		zap.Int("scanned", scanned), zap.Int("deleted", deleted))
}

func (h *ReconcileHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type WebhookHandler struct {
	l *zap.Logger
}

func (s *Service) NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{l: s.named("webhook")}
}

func (h *WebhookHandler) BatchReceived(count int) {
	h.l.Debug("webhook batch received", zap.Int("alerts", count))
}

func (h *WebhookHandler) AlertDropped(key string) {
	h.l.Warn("webhook backlog full; alert dropped", zap.String("incident", key))
}

func (h *WebhookHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type SQSHandler struct {
	l *zap.Logger
}

func (s *Service) NewSQSHandler() *SQSHandler {
	return &SQSHandler{l: s.named("sqs")}
}

func (h *SQSHandler) StartingService() {
	h.l.Info("starting queue poller")
}

func (h *SQSHandler) StoppedService() {
	h.l.Info("queue poller stopped")
}

func (h *SQSHandler) MessageReceived(messageID string) {
	h.l.Debug("queue message received", zap.String("message", messageID))
}

func (h *SQSHandler) ParseFailed(messageID string, err error) {
	h.l.Warn("queue message parse failed; will reappear",
		zap.String("message", messageID), zap.Error(err))
}

func (h *SQSHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

type HTTPDHandler struct {
	l *zap.Logger
}

func (s *Service) NewHTTPDHandler() *HTTPDHandler {
	return &HTTPDHandler{l: s.named("httpd")}
}

func (h *HTTPDHandler) StartingService() {
	h.l.Info("starting HTTP service")
}

func (h *HTTPDHandler) StoppedService() {
	h.l.Info("HTTP service stopped")
}

func (h *HTTPDHandler) ListeningOn(addr string) {
	h.l.Info("listening", zap.String("addr", addr))
}

func (h *HTTPDHandler) AuthenticationEnabled(enabled bool) {
	h.l.Info("authentication configured", zap.Bool("enabled", enabled))
}

func (h *HTTPDHandler) HTTP(method, uri, remoteAddr string, status int, duration time.Duration) {
	h.l.Debug("request",
		zap.String("method", method),
		zap.String("uri", uri),
		zap.String("remote", remoteAddr),
		zap.Int("status", status),
		zap.Duration("duration", duration))
}

func (h *HTTPDHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}
