// Package s3 provides a store backend over an S3 bucket. Object keys mirror
// the engine's hierarchical paths. S3 offers no change notification at this
// level, so watches are implemented by polling; local writes are published
// immediately.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/store"
)

// DefaultPollInterval is how often watchers re-read remote state.
const DefaultPollInterval = 2 * time.Second

// api is the subset of the S3 client used by the backend, extracted for
// test injection.
type api interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store implements store.Store on an S3 bucket.
type Store struct {
	client api
	bucket string
	poll   time.Duration
	hub    *store.Hub

	// mu serializes writes and watch-state bookkeeping with publications.
	mu        sync.Mutex
	lastValue map[string]string
	lastList  map[string]string
	lastCount map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval overrides the watch polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.poll = d }
}

// New returns a Store on the given client and bucket.
func New(client api, bucket string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		bucket:    bucket,
		poll:      DefaultPollInterval,
		hub:       store.NewHub(),
		lastValue: make(map[string]string),
		lastList:  make(map[string]string),
		lastCount: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig builds a Store from the ambient AWS configuration.
// When endpoint is non-empty (e.g. a MinIO deployment), path-style
// addressing and static credentials are used.
func NewFromConfig(ctx context.Context, bucket, region, endpoint, accessKey, secretKey string, opts ...Option) (*Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, bucket, opts...), nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("get %s: %w", path, common.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer out.Body.Close()

	value, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}

	s.lastValue[path] = string(value)
	s.hub.PublishValue(path, value)
	s.publishParentLocked(ctx, path)
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.descendantKeys(ctx, path)
	if err != nil {
		return err
	}
	keys = append(keys, path)

	for _, key := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	s.lastValue[path] = ""
	s.hub.PublishValue(path, nil)
	if children, err := s.childrenLocked(ctx, path); err == nil {
		s.hub.PublishList(path, children)
	}
	s.publishParentLocked(ctx, path)
	return nil
}

func (s *Store) Push(ctx context.Context, path string, value []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children, err := s.childrenLocked(ctx, path)
	if err != nil {
		return 0, err
	}
	index := len(children)

	key := fmt.Sprintf("%s/%010d", path, index)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(value),
	}); err != nil {
		return 0, fmt.Errorf("push %s: %w", path, err)
	}

	s.lastCount[path] = index + 1
	s.hub.PublishPush(path, store.ListPush{Index: index, Value: value})
	if children, err := s.childrenLocked(ctx, path); err == nil {
		s.hub.PublishList(path, children)
	}
	return index, nil
}

func (s *Store) ListKeys(ctx context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children, err := s.childrenLocked(ctx, path)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(children))
	for i, kv := range children {
		keys[i] = kv.Key
	}
	return keys, nil
}

func (s *Store) Watch(ctx context.Context, path string) (<-chan []byte, error) {
	s.mu.Lock()
	current, err := s.Get(ctx, path)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		s.mu.Unlock()
		return nil, err
	}
	s.lastValue[path] = string(current)
	ch := s.hub.SubscribeValue(ctx, path, current)
	s.mu.Unlock()

	go s.pollValue(ctx, path)
	return ch, nil
}

func (s *Store) WatchList(ctx context.Context, path string) (<-chan []store.KeyValue, error) {
	s.mu.Lock()
	children, err := s.childrenLocked(ctx, path)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.lastList[path] = listFingerprint(children)
	ch := s.hub.SubscribeList(ctx, path, children)
	s.mu.Unlock()

	go s.pollList(ctx, path)
	return ch, nil
}

func (s *Store) WatchListPushes(ctx context.Context, path string) (<-chan store.ListPush, error) {
	s.mu.Lock()
	children, err := s.childrenLocked(ctx, path)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	backlog := make([]store.ListPush, len(children))
	for i, kv := range children {
		backlog[i] = store.ListPush{Index: i, Value: kv.Value}
	}
	s.lastCount[path] = len(children)
	ch := s.hub.SubscribePushes(ctx, path, backlog)
	s.mu.Unlock()

	go s.pollPushes(ctx, path)
	return ch, nil
}

func (s *Store) pollValue(ctx context.Context, path string) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		value, err := s.Get(ctx, path)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			continue
		}

		s.mu.Lock()
		if s.lastValue[path] != string(value) {
			s.lastValue[path] = string(value)
			s.hub.PublishValue(path, value)
		}
		s.mu.Unlock()
	}
}

func (s *Store) pollList(ctx context.Context, path string) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		children, err := s.childrenLocked(ctx, path)
		if err == nil {
			if fp := listFingerprint(children); s.lastList[path] != fp {
				s.lastList[path] = fp
				s.hub.PublishList(path, children)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Store) pollPushes(ctx context.Context, path string) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		children, err := s.childrenLocked(ctx, path)
		if err == nil {
			known := s.lastCount[path]
			for i := known; i < len(children); i++ {
				s.hub.PublishPush(path, store.ListPush{Index: i, Value: children[i].Value})
			}
			if len(children) > known {
				s.lastCount[path] = len(children)
			}
		}
		s.mu.Unlock()
	}
}

// listPrefix returns every object under prefix, following continuation
// tokens so listings larger than one page are complete.
func (s *Store) listPrefix(ctx context.Context, prefix, delimiter string) ([]types.Object, error) {
	var objects []types.Object
	var token *string
	for {
		in := &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		}
		if delimiter != "" {
			in.Delimiter = aws.String(delimiter)
		}
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, err
		}
		objects = append(objects, out.Contents...)
		if !aws.ToBool(out.IsTruncated) {
			return objects, nil
		}
		token = out.NextContinuationToken
	}
}

// childrenLocked returns direct children of path sorted by key.
func (s *Store) childrenLocked(ctx context.Context, path string) ([]store.KeyValue, error) {
	prefix := path + "/"
	objects, err := s.listPrefix(ctx, prefix, "/")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	var children []store.KeyValue
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		rest := strings.TrimPrefix(key, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		value, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return nil, err
		}
		children = append(children, store.KeyValue{Key: rest, Value: value})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Key < children[j].Key })
	return children, nil
}

// descendantKeys returns every object key under path.
func (s *Store) descendantKeys(ctx context.Context, path string) ([]string, error) {
	objects, err := s.listPrefix(ctx, path+"/", "")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys, nil
}

// publishParentLocked refreshes list watchers of path's parent.
func (s *Store) publishParentLocked(ctx context.Context, path string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return
	}
	parent := path[:i]
	if children, err := s.childrenLocked(ctx, parent); err == nil {
		s.hub.PublishList(parent, children)
	}
}

func listFingerprint(children []store.KeyValue) string {
	var b strings.Builder
	for _, kv := range children {
		b.WriteString(kv.Key)
		b.WriteByte('\x00')
		b.Write(kv.Value)
		b.WriteByte('\x00')
	}
	return b.String()
}
