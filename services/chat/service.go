package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/incidenthq/incidentd/alert"
	"github.com/incidenthq/incidentd/services/guides"
	"github.com/incidenthq/incidentd/services/incident"
	"github.com/incidenthq/incidentd/services/rules"
)

// Embed colors by state and severity.
const (
	colorCritical = 0xF95F53
	colorWarning  = 0xF48D38
	colorDefault  = 0x7A65F2
	colorResolved = 0x2ECC71
)

const (
	// threadNameLimit is the chat API's cap on thread names.
	threadNameLimit = 50
	// staleAckAfter is how long an acknowledgement holds off repeat mentions.
	staleAckAfter = 60 * time.Minute
	// minAckTTL is the floor for the dedup extension on acknowledge.
	minAckTTL = 10 * time.Minute
)

var (
	chatErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentd",
		Subsystem: "chat",
		Name:      "errors_total",
		Help:      "Chat API calls that failed.",
	})
	rateLimits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentd",
		Subsystem: "chat",
		Name:      "rate_limits_total",
		Help:      "Chat API responses with status 429.",
	})
)

type Diagnostic interface {
	MessageCreated(key, channelID, messageID string)
	MessageEdited(key, messageID string)
	ThreadCreated(key, threadID string)
	Acknowledged(key, by string)
	Resolved(key, by string)

	Error(msg string, err error)
}

// Service mirrors incidents into chat: one message per incident key, a
// public thread per incident, buttons for lifecycle actions, and repeat
// notices. Concurrent emits for the same key are serialized in-process.
type Service struct {
	mu sync.Mutex

	defaultChannel string
	guild          string
	api            API
	keys           *kmutex
	clock          clock.Clock

	IncidentService interface {
		Records() incident.DAO
	}
	DedupService interface {
		Clear(ctx context.Context, fingerprint string) error
		SetTTL(ctx context.Context, fingerprint string, ttl time.Duration) error
	}
	RulesService interface {
		Lookup(name string) (rules.Rule, bool)
	}
	GuidesService interface {
		Guide(ctx context.Context, ruleName string) (guides.Guide, error)
	}

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		defaultChannel: c.DefaultChannel,
		guild:          c.Guild,
		api:            NewClient(c),
		keys:           newKmutex(),
		clock:          clock.New(),
		diag:           d,
	}
}

func (s *Service) Open() error {
	return nil
}

func (s *Service) Close() error {
	return nil
}

// API returns the underlying chat client for the background loops.
func (s *Service) API() API {
	return s.api
}

// Guild returns the configured guild restriction, empty when unrestricted.
func (s *Service) Guild() string {
	return s.guild
}

func (s *Service) countErr(msg string, err error) {
	chatErrors.Inc()
	if apiErr, ok := asAPIError(err); ok && apiErr.IsRateLimit() {
		rateLimits.Inc()
	}
	s.diag.Error(msg, err)
}

// Emit mirrors a into chat and returns the resulting incident record.
// Exactly one message exists per incident key; an existing record reuses its
// message unless the message is gone.
func (s *Service) Emit(ctx context.Context, a alert.Alert, rule rules.Rule) (incident.Record, error) {
	key := a.IncidentKey()
	s.keys.Lock(key)
	defer s.keys.Unlock(key)

	channelID := a.ChannelID
	if channelID == "" {
		channelID = s.defaultChannel
	}

	records := s.IncidentService.Records()
	rec, err := records.Get(ctx, key)
	exists := err == nil
	if err != nil && err != incident.ErrNoIncidentExists {
		return incident.Record{}, err
	}

	if exists && rec.MessageID != "" {
		if _, err := s.api.Message(ctx, rec.ChannelID, rec.MessageID); err != nil {
			if !IsGone(err) {
				s.countErr("fetch mirror message", err)
				return rec, err
			}
			exists = false
		}
	} else if exists {
		exists = false
	}

	if exists {
		return s.emitExisting(ctx, a, rule, rec)
	}
	return s.emitNew(ctx, a, rule, key, channelID)
}

func (s *Service) emitNew(ctx context.Context, a alert.Alert, rule rules.Rule, key, channelID string) (incident.Record, error) {
	now := s.clock.Now()
	state := incident.StateFiring
	if a.Status == alert.Resolved {
		state = incident.StateResolved
	}

	rec := incident.Record{
		Key:       key,
		AlertID:   a.ID,
		ChannelID: channelID,
		State:     state,
		RuleName:  a.RuleName,
		Severity:  a.Severity,
		UpdatedAt: now,
	}
	if state == incident.StateResolved {
		rec.ResolvedAt = resolvedTime(a, now)
	}

	payload := MessagePayload{
		Embeds:     []Embed{renderEmbed(a, rule, rec)},
		Components: componentsFor(rec.State, key),
	}
	msg, err := s.api.CreateMessage(ctx, channelID, payload)
	if err != nil {
		s.countErr("create mirror message", err)
		return rec, err
	}
	rec.MessageID = msg.ID
	s.diag.MessageCreated(key, channelID, msg.ID)

	// Thread failures are tolerable: the message is already up.
	thread, err := s.api.StartThread(ctx, channelID, msg.ID, threadName(a))
	if err != nil {
		s.countErr("start incident thread", err)
	} else {
		rec.ThreadID = thread.ID
		s.diag.ThreadCreated(key, thread.ID)
	}

	if err := s.IncidentService.Records().Put(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *Service) emitExisting(ctx context.Context, a alert.Alert, rule rules.Rule, rec incident.Record) (incident.Record, error) {
	now := s.clock.Now()
	prior := rec

	switch {
	case a.Status == alert.Resolved:
		rec.State = incident.StateResolved
		rec.ResolvedAt = resolvedTime(a, now)
	case rec.State == incident.StateResolved:
		// Firing again within the reuse window.
		rec.State = incident.StateFiring
	}
	rec.AlertID = a.ID
	rec.RuleName = a.RuleName
	rec.Severity = a.Severity
	rec.UpdatedAt = now

	payload := MessagePayload{
		Embeds:     []Embed{renderEmbed(a, rule, rec)},
		Components: componentsFor(rec.State, rec.Key),
	}
	if _, err := s.api.EditMessage(ctx, rec.ChannelID, rec.MessageID, payload); err != nil {
		s.countErr("edit mirror message", err)
		return rec, err
	}
	s.diag.MessageEdited(rec.Key, rec.MessageID)

	if a.Status == alert.Firing && rec.ThreadID != "" {
		content := "🔁 Alert repeated"
		if prior.State == incident.StateAcknowledged &&
			now.Sub(prior.AcknowledgedAt) > staleAckAfter && len(rule.Mentions) > 0 {
			content += fmt.Sprintf("\n%s the alert you acknowledged is still firing", rule.Mentions[0])
		}
		if _, err := s.api.CreateMessage(ctx, rec.ThreadID, MessagePayload{Content: content}); err != nil {
			s.countErr("post repeat notice", err)
		}
	}

	if err := s.IncidentService.Records().Put(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Acknowledge handles the Acknowledge button: marks the incident, re-renders
// the mirror message, and extends the dedup window so the source does not
// immediately re-post.
func (s *Service) Acknowledge(ctx context.Context, key, userID string) error {
	s.keys.Lock(key)
	defer s.keys.Unlock(key)

	records := s.IncidentService.Records()
	rec, err := records.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec.State == incident.StateResolved {
		return errors.New("incident already resolved")
	}

	rec.State = incident.StateAcknowledged
	rec.AcknowledgedBy = userID
	rec.AcknowledgedAt = s.clock.Now()

	if err := s.rerender(ctx, rec); err != nil {
		return err
	}
	if err := records.Put(ctx, rec); err != nil {
		return err
	}

	ttl := minAckTTL
	if rule, ok := s.RulesService.Lookup(rec.RuleName); ok && rule.SuppressWindow() > ttl {
		ttl = rule.SuppressWindow()
	}
	if err := s.DedupService.SetTTL(ctx, rec.AlertID, ttl); err != nil {
		s.diag.Error("extend dedup on acknowledge", err)
	}
	s.diag.Acknowledged(key, userID)
	return nil
}

// Resolve handles the Resolve button: green embed, buttons removed, dedup
// cleared so the next firing is a fresh emit.
func (s *Service) Resolve(ctx context.Context, key, userID string) error {
	s.keys.Lock(key)
	defer s.keys.Unlock(key)

	records := s.IncidentService.Records()
	rec, err := records.Get(ctx, key)
	if err != nil {
		return err
	}

	rec.State = incident.StateResolved
	rec.ResolvedBy = userID
	rec.ResolvedAt = s.clock.Now()

	if err := s.rerender(ctx, rec); err != nil {
		return err
	}
	if err := records.Put(ctx, rec); err != nil {
		return err
	}
	if err := s.DedupService.Clear(ctx, rec.AlertID); err != nil {
		s.diag.Error("clear dedup on resolve", err)
	}
	s.diag.Resolved(key, userID)
	return nil
}

// Troubleshoot posts the rule's guide into the incident thread, chunked to
// the message length limit, or a notice when none is configured.
func (s *Service) Troubleshoot(ctx context.Context, key, userID string) error {
	records := s.IncidentService.Records()
	rec, err := records.Get(ctx, key)
	if err != nil {
		return err
	}
	target := rec.ThreadID
	if target == "" {
		target = rec.ChannelID
	}

	g, err := s.GuidesService.Guide(ctx, rec.RuleName)
	if errors.Is(err, guides.ErrNoGuideExists) {
		_, err = s.api.CreateMessage(ctx, target, MessagePayload{
			Content: fmt.Sprintf("No troubleshooting guide configured for `%s`.", rec.RuleName),
		})
		if err != nil {
			s.countErr("post guide notice", err)
		}
		return err
	}
	if err != nil {
		return err
	}
	for _, chunk := range guides.Chunk(g.Content, guides.MaxChunkLen) {
		if _, err := s.api.CreateMessage(ctx, target, MessagePayload{Content: chunk}); err != nil {
			s.countErr("post guide chunk", err)
			return err
		}
	}
	return nil
}

// Escalate posts a leveled mention into the incident thread, or the channel
// when no thread exists.
func (s *Service) Escalate(ctx context.Context, rec incident.Record, mention string, level int) error {
	target := rec.ThreadID
	if target == "" {
		target = rec.ChannelID
	}
	content := fmt.Sprintf("%s escalation level %d: incident `%s` is still unacknowledged", mention, level+1, rec.Key)
	if _, err := s.api.CreateMessage(ctx, target, MessagePayload{Content: content}); err != nil {
		s.countErr("post escalation mention", err)
		return err
	}
	return nil
}

// rerender re-colors the existing embed and swaps the button set after a
// lifecycle action, preserving the alert content already on the message.
func (s *Service) rerender(ctx context.Context, rec incident.Record) error {
	msg, err := s.api.Message(ctx, rec.ChannelID, rec.MessageID)
	if err != nil {
		s.countErr("fetch message for rerender", err)
		return err
	}

	embeds := msg.Embeds
	if len(embeds) > 0 {
		e := &embeds[0]
		e.Fields = withoutField(e.Fields, "Acknowledged")
		switch rec.State {
		case incident.StateAcknowledged:
			e.Fields = append(e.Fields, EmbedField{
				Name:  "Acknowledged",
				Value: fmt.Sprintf("by <@%s> at %s", rec.AcknowledgedBy, rec.AcknowledgedAt.UTC().Format(time.RFC3339)),
			})
		case incident.StateResolved:
			e.Color = colorResolved
		}
	}

	payload := MessagePayload{
		Embeds:     embeds,
		Components: componentsFor(rec.State, rec.Key),
	}
	if _, err := s.api.EditMessage(ctx, rec.ChannelID, rec.MessageID, payload); err != nil {
		s.countErr("rerender message", err)
		return err
	}
	return nil
}

func withoutField(fields []EmbedField, name string) []EmbedField {
	out := fields[:0]
	for _, f := range fields {
		if f.Name != name {
			out = append(out, f)
		}
	}
	return out
}

func renderEmbed(a alert.Alert, rule rules.Rule, rec incident.Record) Embed {
	e := Embed{
		Title:       a.Title,
		Description: a.Description,
		Color:       embedColor(rec.State, a.Severity),
		Footer:      &EmbedFooter{Text: a.Source},
	}
	if e.Title == "" {
		e.Title = a.RuleName
	}
	if rule.ThumbnailURL != "" {
		e.Thumbnail = &EmbedThumbnail{URL: rule.ThumbnailURL}
	}
	if alert.MeaningfulTime(a.StartedAt) {
		e.Timestamp = a.StartedAt.UTC().Format(time.RFC3339)
	}
	for _, f := range a.Fields {
		if rule.HidesLabel(f.Name) {
			continue
		}
		e.Fields = append(e.Fields, EmbedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	if rec.State == incident.StateAcknowledged {
		e.Fields = append(e.Fields, EmbedField{
			Name:  "Acknowledged",
			Value: fmt.Sprintf("by <@%s> at %s", rec.AcknowledgedBy, rec.AcknowledgedAt.UTC().Format(time.RFC3339)),
		})
	}
	return e
}

func embedColor(state incident.State, sev alert.Severity) int {
	if state == incident.StateResolved {
		return colorResolved
	}
	switch sev {
	case alert.Critical:
		return colorCritical
	case alert.High, alert.Warning:
		// The palette has no tier between warning and critical; High
		// renders amber.
		return colorWarning
	default:
		return colorDefault
	}
}

// componentsFor returns the button row for a lifecycle state. Resolved
// incidents carry none; acknowledged ones lose the Acknowledge button.
func componentsFor(state incident.State, key string) *[]Component {
	empty := []Component{}
	if state == incident.StateResolved {
		return &empty
	}
	var buttons []Component
	if state == incident.StateFiring {
		buttons = append(buttons, Component{
			Type:     componentButton,
			Style:    styleSuccess,
			Label:    "Acknowledge",
			CustomID: "ack|" + key,
		})
	}
	buttons = append(buttons,
		Component{
			Type:     componentButton,
			Style:    styleDanger,
			Label:    "Resolve",
			CustomID: "resolve|" + key,
		},
		Component{
			Type:     componentButton,
			Style:    styleSecondary,
			Label:    "Troubleshoot",
			CustomID: "troubleshoot|" + key,
		},
	)
	row := []Component{{Type: componentActionRow, Components: buttons}}
	return &row
}

func threadName(a alert.Alert) string {
	title := a.Title
	if title == "" {
		title = a.RuleName
	}
	name := "Incident: " + title
	if r := []rune(name); len(r) > threadNameLimit {
		name = string(r[:threadNameLimit])
	}
	return name
}

func resolvedTime(a alert.Alert, now time.Time) time.Time {
	if alert.MeaningfulTime(a.ResolvedAt) {
		return a.ResolvedAt
	}
	return now
}
