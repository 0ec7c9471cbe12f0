package vault

import (
	"context"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/crypt"
	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/wqueue"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var Logger = logger.GetLogger("vault")

const (
	DefaultExpiry = 720 * time.Hour
	DefaultExtend = 12 * time.Hour

	// maxFromLen truncates the from attribute, counted in runes
	maxFromLen = 20
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	DefaultExpiry time.Duration
	DefaultExtend time.Duration
	// BlockTime converts durations into blocks
	BlockTime time.Duration
	// Queue configures the write queue
	Queue wqueue.Options
	// Now is the clock for timestamps, defaults to time.Now
	Now func() time.Time
	// Tracer defaults to the global otel tracer provider
	Tracer trace.Tracer
}

// Client is the encrypting entity store client. All mutations go through one
// write queue, reads go to the store directly.
type Client struct {
	store  store.IEntityStore
	cipher *crypt.Cipher
	id     *identity.Identity
	queue  *wqueue.Queue
	opts   Options
	tracer trace.Tracer
}

// New creates a client. id may be nil, mutations then fail with a ConfigurationError.
func New(st store.IEntityStore, c *crypt.Cipher, id *identity.Identity, opts Options) *Client {
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = DefaultExpiry
	}
	if opts.DefaultExtend <= 0 {
		opts.DefaultExtend = DefaultExtend
	}
	if opts.BlockTime <= 0 {
		opts.BlockTime = store.DefaultBlockTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/ValentinKolb/ghostmesh/lib/vault")
	}

	cl := &Client{store: st, cipher: c, id: id, opts: opts, tracer: tracer}
	if id != nil {
		cl.queue = wqueue.New(&signingExecutor{store: st, id: id}, opts.Queue)
		Logger.Infof("entity client ready for %s", id.Address())
	} else {
		Logger.Warningf("no signing identity configured, the client is read only")
	}
	return cl
}

// Address returns the signing address or "" for a read only client
func (c *Client) Address() string {
	if c.id == nil {
		return ""
	}
	return c.id.Address()
}

// Queue returns the write queue, nil for a read only client
func (c *Client) Queue() *wqueue.Queue {
	return c.queue
}

// Close drains the write queue
func (c *Client) Close(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}
	return c.queue.Close(ctx)
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Create encrypts rec.Data and stores the record as a new entity.
func (c *Client) Create(ctx context.Context, rec Record) (key string, err error) {
	ctx, span := c.start(ctx, "vault.Create", attribute.String("record.type", rec.Type))
	defer func() { end(span, err) }()

	if err := c.requireIdentity(); err != nil {
		return "", err
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	plain, err := rec.DataString()
	if err != nil {
		return "", err
	}
	content, err := c.encrypt(plain)
	if err != nil {
		return "", err
	}

	now := c.opts.Now()
	env := Envelope{Encrypted: true, Data: EnvelopeData{
		Type:      rec.Type,
		Content:   content,
		From:      rec.From,
		Timestamp: orNow(rec.Timestamp, now),
		UUID:      optional(rec.UUID),
		Source:    Source,
	}}
	payload, err := seal(env, map[string]string{"content": plain})
	if err != nil {
		return "", err
	}

	attrs := []store.Attribute{
		{Key: "type", Value: rec.Type},
		{Key: "source", Value: Source},
		{Key: "id", Value: uuid.NewString()},
	}
	attrs = append(attrs, c.identityAttrs(rec.UUID, rec.From)...)
	attrs = append(attrs,
		store.Attribute{Key: "timestamp", Value: millis(timestampMillis(rec.Timestamp, now))},
		store.Attribute{Key: "created", Value: millis(now.UnixMilli())},
	)

	res, err := c.submit(ctx, wqueue.Operation{
		Kind:       wqueue.KindCreate,
		Payload:    payload,
		Attributes: attrs,
		Expiry:     store.BlocksFor(c.opts.DefaultExpiry, c.opts.BlockTime),
	})
	if err != nil {
		return "", err
	}
	Logger.Infof("created %s entity %s", rec.Type, res.Key)
	return res.Key, nil
}

// CreateSensor stores a sensor reading with temperature and humidity encrypted separately.
func (c *Client) CreateSensor(ctx context.Context, r SensorReading, from, msgUUID string) (key string, err error) {
	ctx, span := c.start(ctx, "vault.CreateSensor", attribute.String("record.type", r.Type))
	defer func() { end(span, err) }()

	if err := c.requireIdentity(); err != nil {
		return "", err
	}
	if err := r.Validate(); err != nil {
		return "", err
	}

	temperature, err := c.encrypt(r.Temperature)
	if err != nil {
		return "", err
	}
	humidity, err := c.encrypt(r.Humidity)
	if err != nil {
		return "", err
	}

	now := c.opts.Now()
	pin := r.Pin
	env := Envelope{Encrypted: true, Data: EnvelopeData{
		Type:        r.Type,
		Timestamp:   orNow(r.Timestamp, now),
		Temperature: temperature,
		Humidity:    humidity,
		Pin:         &pin,
		SensorType:  r.SensorType,
		Encrypted:   true,
		Source:      Source,
	}}
	payload, err := seal(env, map[string]string{"temperature": r.Temperature, "humidity": r.Humidity})
	if err != nil {
		return "", err
	}

	attrs := []store.Attribute{
		{Key: "type", Value: r.Type},
		{Key: "source", Value: Source},
		{Key: "id", Value: uuid.NewString()},
		{Key: "sensorType", Value: r.SensorType},
		{Key: "pin", Value: millis(int64(r.Pin))},
	}
	attrs = append(attrs, c.identityAttrs(msgUUID, from)...)
	attrs = append(attrs,
		store.Attribute{Key: "timestamp", Value: millis(timestampMillis(r.Timestamp, now))},
		store.Attribute{Key: "created", Value: millis(now.UnixMilli())},
	)

	res, err := c.submit(ctx, wqueue.Operation{
		Kind:       wqueue.KindCreate,
		Payload:    payload,
		Attributes: attrs,
		Expiry:     store.BlocksFor(c.opts.DefaultExpiry, c.opts.BlockTime),
	})
	if err != nil {
		return "", err
	}
	return res.Key, nil
}

// Read returns all entities of the given type (all types if empty), decrypted.
// A decryption failure is recorded on the affected entity only.
func (c *Client) Read(ctx context.Context, typeFilter string) (entities []ReadEntity, err error) {
	_, span := c.start(ctx, "vault.Read", attribute.String("record.type", typeFilter))
	defer func() { end(span, err) }()

	q := store.Query{}
	if typeFilter != "" {
		q = store.Where("type", typeFilter)
	}
	found, err := c.store.QueryEntities(q)
	if err != nil {
		return nil, err
	}

	entities = make([]ReadEntity, 0, len(found))
	failed := 0
	for _, e := range found {
		re := decode(e, c.cipher)
		if re.DecryptionError != "" {
			failed++
		}
		entities = append(entities, re)
	}
	span.SetAttributes(attribute.Int("entities", len(entities)), attribute.Int("decryption_errors", failed))
	Logger.Debugf("read %d entities of type %q (%d decryption errors)", len(entities), typeFilter, failed)
	return entities, nil
}

// Update replaces payload and attributes of an entity and resets its expiry to
// expiresIn (DefaultExpiry if zero).
func (c *Client) Update(ctx context.Context, key string, rec Record, expiresIn time.Duration) (_ string, err error) {
	ctx, span := c.start(ctx, "vault.Update", attribute.String("entity.key", key), attribute.String("record.type", rec.Type))
	defer func() { end(span, err) }()

	if err := c.requireIdentity(); err != nil {
		return "", err
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}
	if expiresIn <= 0 {
		expiresIn = c.opts.DefaultExpiry
	}

	plain, err := rec.DataString()
	if err != nil {
		return "", err
	}
	content, err := c.encrypt(plain)
	if err != nil {
		return "", err
	}

	now := c.opts.Now()
	env := Envelope{Encrypted: true, Data: EnvelopeData{
		Type:      rec.Type,
		Content:   content,
		From:      rec.From,
		Timestamp: orNow(rec.Timestamp, now),
		UUID:      optional(rec.UUID),
		Source:    Source,
	}}
	payload, err := seal(env, map[string]string{"content": plain})
	if err != nil {
		return "", err
	}

	res, err := c.submit(ctx, wqueue.Operation{
		Kind:    wqueue.KindUpdate,
		Key:     key,
		Payload: payload,
		Attributes: []store.Attribute{
			{Key: "type", Value: rec.Type},
			{Key: "updated", Value: millis(now.UnixMilli())},
		},
		Expiry: store.BlocksFor(expiresIn, c.opts.BlockTime),
	})
	if err != nil {
		return "", err
	}
	return res.Key, nil
}

// Delete removes an entity. Deleting a missing entity returns the store's error.
func (c *Client) Delete(ctx context.Context, key string) (_ string, err error) {
	ctx, span := c.start(ctx, "vault.Delete", attribute.String("entity.key", key))
	defer func() { end(span, err) }()

	if err := c.requireIdentity(); err != nil {
		return "", err
	}
	if _, err := c.submit(ctx, wqueue.Operation{Kind: wqueue.KindDelete, Key: key}); err != nil {
		return "", err
	}
	return key, nil
}

// Extend pushes the expiry of an entity forward by by (DefaultExtend if zero) and
// returns the new expiry block.
func (c *Client) Extend(ctx context.Context, key string, by time.Duration) (_ uint64, err error) {
	ctx, span := c.start(ctx, "vault.Extend", attribute.String("entity.key", key))
	defer func() { end(span, err) }()

	if err := c.requireIdentity(); err != nil {
		return 0, err
	}
	if by <= 0 {
		by = c.opts.DefaultExtend
	}
	res, err := c.submit(ctx, wqueue.Operation{
		Kind:   wqueue.KindExtend,
		Key:    key,
		Expiry: store.BlocksFor(by, c.opts.BlockTime),
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("entity.expires_at", int64(res.ExpiresAt)))
	return res.ExpiresAt, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (c *Client) requireIdentity() error {
	if c.id == nil || c.queue == nil {
		return store.NewError(store.RetCConfiguration, "no signing identity configured")
	}
	return nil
}

// encrypt encrypts and verifies that the cipher differs from the plaintext
func (c *Client) encrypt(plain string) (string, error) {
	out, err := c.cipher.Encrypt(plain)
	if err != nil {
		return "", err
	}
	if err := crypt.Verify(plain, out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) identityAttrs(msgUUID, from string) []store.Attribute {
	var attrs []store.Attribute
	if msgUUID != "" {
		attrs = append(attrs, store.Attribute{Key: "uuid", Value: msgUUID})
	}
	if from != "" {
		if r := []rune(from); len(r) > maxFromLen {
			from = string(r[:maxFromLen])
		}
		attrs = append(attrs, store.Attribute{Key: "from", Value: from})
	}
	return attrs
}

// orNow returns ts, or now in RFC 3339 if ts is empty
func orNow(ts string, now time.Time) string {
	if ts == "" {
		return now.UTC().Format(time.RFC3339Nano)
	}
	return ts
}

func (c *Client) submit(ctx context.Context, op wqueue.Operation) (wqueue.Result, error) {
	return c.queue.Enqueue(ctx, op).Wait(ctx)
}

func (c *Client) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", store.CodeOf(err).String()))
	}
	span.End()
}
