// Package storagetest provides an in-memory storage.Client for tests.
//
// Objects get an MD5 ETag of their content and a LastModified that strictly increases with
// every write, so "most recent" is deterministic. Missing objects produce the same
// minio.ErrorResponse a real server would, and individual operations can be made to fail.
package storagetest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"doc-reconciler/core/storage"

	"github.com/minio/minio-go/v7"
)

var _ storage.Client = (*Store)(nil)

// Op names an operation for failure injection.
type Op string

const (
	OpList   Op = "list"
	OpStat   Op = "stat"
	OpFGet   Op = "fget"
	OpPut    Op = "put"
	OpRemove Op = "remove"
)

type object struct {
	data     []byte
	etag     string
	modified time.Time
	meta     map[string]string
	ctype    string
}

// Store is an in-memory bucket set. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	buckets map[string]map[string]*object
	clock   time.Time
	fail    map[string]error
	calls   map[Op]int
}

// New returns a store holding the given empty buckets.
func New(buckets ...string) *Store {
	s := &Store{
		buckets: make(map[string]map[string]*object),
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		fail:    make(map[string]error),
		calls:   make(map[Op]int),
	}
	for _, b := range buckets {
		s.buckets[b] = make(map[string]*object)
	}
	return s
}

// NotFound is the error returned for missing objects.
func NotFound(key string) error {
	return minio.ErrorResponse{
		Code:       "NoSuchKey",
		Message:    "The specified key does not exist.",
		Key:        key,
		StatusCode: http.StatusNotFound,
	}
}

// Put stores content at key and returns its ETag.
func (s *Store) Put(bucket, key string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(bucket, key, content, nil, "")
}

func (s *Store) put(bucket, key string, content []byte, meta map[string]string, ctype string) string {
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]*object)
		s.buckets[bucket] = b
	}
	sum := md5.Sum(content)
	s.clock = s.clock.Add(time.Second)
	obj := &object{
		data:     append([]byte(nil), content...),
		etag:     hex.EncodeToString(sum[:]),
		modified: s.clock,
		meta:     meta,
		ctype:    ctype,
	}
	b[key] = obj
	return obj.etag
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(bucket, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
}

// Has reports whether key exists.
func (s *Store) Has(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[bucket][key]
	return ok
}

// Keys returns all keys in bucket with the given prefix, sorted.
func (s *Store) Keys(bucket, prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Metadata returns the user metadata stored with key.
func (s *Store) Metadata(bucket, key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.buckets[bucket][key]; ok {
		return obj.meta
	}
	return nil
}

// FailOn makes op on key (or on every key when key is "") return err until cleared
// with a nil err.
func (s *Store) FailOn(op Op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := string(op) + "|" + key
	if err == nil {
		delete(s.fail, id)
		return
	}
	s.fail[id] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) check(op Op, key string) error {
	s.calls[op]++
	if err, ok := s.fail[string(op)+"|"+key]; ok {
		return err
	}
	if err, ok := s.fail[string(op)+"|"]; ok {
		return err
	}
	return nil
}

func (s *Store) lookup(bucket, key string) (*object, error) {
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchBucket", BucketName: bucket, StatusCode: http.StatusNotFound}
	}
	obj, ok := b[key]
	if !ok {
		return nil, NotFound(key)
	}
	return obj, nil
}

func (s *Store) info(key string, obj *object) minio.ObjectInfo {
	return minio.ObjectInfo{
		Key:          key,
		ETag:         obj.etag,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
		ContentType:  obj.ctype,
		UserMetadata: obj.meta,
	}
}

func (s *Store) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[bucketName]
	return ok, nil
}

func (s *Store) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpPut, objectName); err != nil {
		return minio.UploadInfo{}, err
	}
	etag := s.put(bucketName, objectName, data, opts.UserMetadata, opts.ContentType)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, ETag: etag, Size: int64(len(data))}, nil
}

func (s *Store) FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error {
	s.mu.Lock()
	if err := s.check(OpFGet, objectName); err != nil {
		s.mu.Unlock()
		return err
	}
	obj, err := s.lookup(bucketName, objectName)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, obj.data, 0o600)
}

func (s *Store) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpStat, objectName); err != nil {
		return minio.ObjectInfo{}, err
	}
	obj, err := s.lookup(bucketName, objectName)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	return s.info(objectName, obj), nil
}

// ListObjects always lists recursively, in key order.
func (s *Store) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpList, opts.Prefix); err != nil {
		ch := make(chan minio.ObjectInfo, 1)
		ch <- minio.ObjectInfo{Err: err}
		close(ch)
		return ch
	}

	var keys []string
	for k := range s.buckets[bucketName] {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	ch := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		ch <- s.info(k, s.buckets[bucketName][k])
	}
	close(ch)
	return ch
}

func (s *Store) RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	var names []string
	for obj := range objectsCh {
		names = append(names, obj.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	errCh := make(chan minio.RemoveObjectError, len(names))
	for _, name := range names {
		if err := s.check(OpRemove, name); err != nil {
			errCh <- minio.RemoveObjectError{ObjectName: name, Err: err}
			continue
		}
		delete(s.buckets[bucketName], name)
	}
	close(errCh)
	return errCh
}

// String lists the store content, for test failure messages.
func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for b, objs := range s.buckets {
		for k, o := range objs {
			fmt.Fprintf(&sb, "%s/%s (%s)\n", b, k, o.etag)
		}
	}
	return sb.String()
}
