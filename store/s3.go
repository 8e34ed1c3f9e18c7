package store

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

var awsSession *session.Session
var s3Client *s3.S3
var s3logger hasPrintf
var s3region string

func s3client() *s3.S3 {
	if awsSession == nil {
		var err error
		awsSession, err = session.NewSession()
		if err != nil {
			s3log("s3client: could not create session: %v", err)
			return nil
		}
	}

	if s3Client == nil {
		s3Client = s3.New(awsSession, aws.NewConfig().WithRegion(s3region))
	}

	return s3Client
}

func s3init(logger hasPrintf, region string) {
	if s3logger != nil {
		panic("s3 store reinitialization")
	}
	if logger == nil {
		panic("s3 store nil logger")
	}
	s3region = region
	s3logger = logger
}

func s3log(format string, v ...interface{}) {
	if s3logger == nil {
		fmt.Printf("s3 store: "+format, v...)
		panic("s3 store uninitialized")
	}
	s3logger.Printf("s3 store: "+format, v...)
}

// S3Path reports whether a path addresses the S3 backend.
func S3Path(path string) bool {
	return strings.HasPrefix(path, "arn:aws:s3:")
}

// S3URL translates an S3 path into a download URL.
func S3URL(path string) string {
	region, bucket, key := s3parse(path)
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// "arn:aws:s3:region::bucket/folder/file.xxx"
func s3parse(p string) (string, string, string) {
	s := strings.SplitN(p, ":", 6)
	if len(s) < 6 {
		return "", "", ""
	}
	region := s[3]
	file := s[5]
	slash := strings.IndexByte(file, '/')
	if slash < 1 {
		return "", "", ""
	}
	bucket := file[:slash]
	key := file[slash+1:]
	return region, bucket, key
}

func s3fileExists(path string) bool {

	s3c := s3client()
	if s3c == nil {
		s3log("s3fileExists: missing s3 client: assuming file exists")
		return true // fail safe: prevents overwriting an entry
	}

	_, bucket, key := s3parse(path)

	params := &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	_, err := s3c.HeadObject(params)

	return err == nil
}

func s3fileput(path string, buf []byte) error {

	s3c := s3client()
	if s3c == nil {
		return fmt.Errorf("s3fileput: missing s3 client")
	}

	_, bucket, key := s3parse(path)

	params := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf),
	}
	_, err := s3c.PutObject(params)
	if err != nil {
		return fmt.Errorf("s3fileput: [%s]: %v", path, err)
	}

	return nil
}

func s3fileRead(path string, maxSize int64) ([]byte, error) {

	s3c := s3client()
	if s3c == nil {
		return nil, fmt.Errorf("s3fileRead: missing s3 client")
	}

	_, bucket, key := s3parse(path)

	params := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	resp, err := s3c.GetObject(params)
	if err != nil {
		return nil, fmt.Errorf("s3fileRead: [%s]: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != nil && *resp.ContentLength > maxSize {
		return nil, fmt.Errorf("s3fileRead: object too big: [%s]: size=%d max=%d", path, *resp.ContentLength, maxSize)
	}

	buf := &bytes.Buffer{}
	if _, copyErr := buf.ReadFrom(resp.Body); copyErr != nil {
		return nil, fmt.Errorf("s3fileRead: [%s]: %v", path, copyErr)
	}

	return buf.Bytes(), nil
}

func s3fileFirstLine(path string) (string, error) {

	buf, err := s3fileRead(path, maxEntryCompareSize)
	if err != nil {
		return "", err
	}

	r := bufio.NewReader(bytes.NewReader(buf))
	line, _, readErr := r.ReadLine()

	return string(line), readErr
}

func s3fileRemove(path string) error {

	s3c := s3client()
	if s3c == nil {
		return fmt.Errorf("s3fileRemove: missing s3 client")
	}

	_, bucket, key := s3parse(path)

	params := &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	_, err := s3c.DeleteObject(params)
	if err != nil {
		return fmt.Errorf("s3fileRemove: [%s]: %v", path, err)
	}

	return nil
}

// s3fileRename emulates rename as server-side copy then delete.
func s3fileRename(p1, p2 string) error {

	s3c := s3client()
	if s3c == nil {
		return fmt.Errorf("s3fileRename: missing s3 client")
	}

	_, bucket1, key1 := s3parse(p1)
	_, bucket2, key2 := s3parse(p2)

	params := &s3.CopyObjectInput{
		Bucket:     aws.String(bucket2),
		Key:        aws.String(key2),
		CopySource: aws.String(bucket1 + "/" + key1),
	}
	if _, err := s3c.CopyObject(params); err != nil {
		return fmt.Errorf("s3fileRename: copy [%s] to [%s]: %v", p1, p2, err)
	}

	return s3fileRemove(p1)
}

func s3fileInfo(p string) (time.Time, int64, error) {

	s3c := s3client()
	if s3c == nil {
		return time.Time{}, 0, fmt.Errorf("s3fileInfo: missing s3 client")
	}

	_, bucket, key := s3parse(p)

	params := &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	resp, err := s3c.HeadObject(params)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("s3fileInfo: [%s]: %v", p, err)
	}

	var mod time.Time
	if resp.LastModified != nil {
		mod = *resp.LastModified
	}
	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}

	return mod, size, nil
}

// s3dirList lists object basenames sharing the prefix directory.
func s3dirList(p string) (string, []string, error) {

	s3c := s3client()
	if s3c == nil {
		return "", nil, fmt.Errorf("s3dirList: missing s3 client")
	}

	_, bucket, key := s3parse(p)

	dir := path.Dir(key)
	arnDir := p[:strings.LastIndexByte(p, '/')]

	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(dir + "/"),
	}

	var names []string
	err := s3c.ListObjectsV2Pages(params, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			names = append(names, path.Base(*obj.Key))
		}
		return true
	})
	if err != nil {
		return arnDir, nil, fmt.Errorf("s3dirList: [%s]: %v", p, err)
	}

	return arnDir, names, nil
}
