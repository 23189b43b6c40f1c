package structure

import (
	_ "embed"
	"reflect"
	"strings"
	"testing"

	imapv2 "github.com/emersion/go-imap/v2"
)

//go:embed testdata/fetch.txt
var fetchTranscript string

func TestScanTranscript(t *testing.T) {
	tests := []struct {
		name         string
		inlineImages bool
		want         []uint32
	}{
		{name: "attachments only", want: []uint32{101, 104, 105}},
		{name: "inline images", inlineImages: true, want: []uint32{101, 103, 104, 105}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Scan(strings.NewReader(fetchTranscript), NewDetector(tt.inlineImages), nil)
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if got := s.Candidates(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Candidates() = %v, want %v", got, tt.want)
			}
			if got := len(s.Records()); got != 5 {
				t.Errorf("parsed %d records, want 5", got)
			}
			if got := len(s.Diagnostics()); got != 2 {
				t.Errorf("diagnostics = %q, want 2 entries", s.Diagnostics())
			}
		})
	}
}

func TestScannerStitchesWrappedLines(t *testing.T) {
	s := NewScanner(NewDetector(false), nil)
	s.Feed(`* 9 FETCH (UID 900 BODYSTRUCTURE (("TEXT" "PLAIN" NIL NIL NIL "7BIT" 3 1 NIL NIL NIL NIL)`)
	if len(s.Records()) != 0 {
		t.Fatalf("record emitted before it was closed")
	}
	s.Feed(`("APPLICATION" "ZIP" ("NAME" "a (1).zip") NIL NIL "BASE64" 9000 NIL`)
	s.Feed(` NIL NIL NIL) "MIXED" ("BOUNDARY" "x") NIL NIL NIL))`)

	records := s.Records()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 (diagnostics %q)", len(records), s.Diagnostics())
	}
	r := records[0]
	if r.UID != 900 || r.SeqNum != 9 || !r.HasAttachment {
		t.Errorf("record = %+v", r)
	}
	if got := r.Root.Children[1].Params["name"]; got != "a (1).zip" {
		t.Errorf("parenthesis inside quoted string broke parsing: name = %q", got)
	}
}

func TestScannerRecoversAfterUnbalancedRecord(t *testing.T) {
	s := NewScanner(NewDetector(false), nil)
	// record 1 is missing its final parenthesis
	s.Feed(`* 1 FETCH (UID 10 BODYSTRUCTURE (("TEXT" "PLAIN" NIL NIL NIL "7BIT" 3 1 NIL NIL NIL NIL)("APPLICATION" "PDF" NIL NIL NIL "BASE64" 9 NIL NIL NIL NIL) "MIXED" NIL NIL NIL NIL)`)
	s.Feed(`* 2 FETCH (UID 11 BODYSTRUCTURE (("TEXT" "PLAIN" NIL NIL NIL "7BIT" 3 1 NIL NIL NIL NIL)("APPLICATION" "PDF" NIL NIL NIL "BASE64" 9 NIL NIL NIL NIL) "MIXED" NIL NIL NIL NIL))`)
	s.Feed(`* 3 FETCH (UID 12 BODYSTRUCTURE (("TEXT" "PLAIN" NIL NIL NIL "7BIT" 3 1 NIL NIL NIL NIL)("APPLICATION" "ZIP" NIL NIL NIL "BASE64" 9 NIL NIL NIL NIL) "MIXED" NIL NIL NIL NIL))`)
	s.Flush()

	if got := s.Candidates(); !reflect.DeepEqual(got, []uint32{11, 12}) {
		t.Errorf("Candidates() = %v, want [11 12]", got)
	}
	if got := s.Diagnostics(); len(got) != 1 || !strings.Contains(got[0], ErrUnbalanced.Error()) {
		t.Errorf("Diagnostics() = %q, want one unbalanced entry", got)
	}
}

func TestScannerKeepsLiteralSpanningFetchLikeLine(t *testing.T) {
	s := NewScanner(NewDetector(false), nil)
	s.Feed(`* 1 FETCH (UID 20 BODYSTRUCTURE (("TEXT" "PLAIN" NIL NIL NIL "7BIT" 3 1 NIL NIL NIL NIL)("APPLICATION" "PDF" ("NAME" {15}`)
	s.Feed(`* 9 FETCH a.pdf) NIL NIL "BASE64" 9 NIL NIL NIL NIL) "MIXED" NIL NIL NIL NIL))`)

	records := s.Records()
	if len(records) != 1 || len(s.Diagnostics()) != 0 {
		t.Fatalf("records = %d, diagnostics = %q", len(records), s.Diagnostics())
	}
	if got := records[0].Root.Children[1].Params["name"]; got != "* 9 FETCH a.pdf" {
		t.Errorf("literal name = %q", got)
	}
}

func TestParseFetchFields(t *testing.T) {
	line := `* 3 FETCH (BODYSTRUCTURE (("TEXT" "PLAIN" ("CHARSET" "us-ascii") NIL NIL "7BIT" 10 1 NIL NIL NIL NIL)("MESSAGE" "RFC822" NIL NIL NIL "7BIT" 800 ("date" "subj" NIL NIL NIL NIL NIL NIL NIL NIL) (("TEXT" "PLAIN" NIL NIL NIL "7BIT" 5 1 NIL NIL NIL NIL)("APPLICATION" "PDF" NIL NIL NIL "BASE64" 400 NIL ("ATTACHMENT" ("FILENAME" "in \"quotes\".pdf")) NIL NIL) "MIXED" NIL NIL NIL NIL) 20 NIL ("INLINE" NIL) NIL NIL) "MIXED" ("BOUNDARY" "q") ("INLINE" NIL) NIL NIL) UID 77)`
	record, err := parseFetch(line)
	if err != nil {
		t.Fatalf("parseFetch() error = %v", err)
	}
	if record.UID != 77 || record.ID() != 77 {
		t.Errorf("UID = %d", record.UID)
	}

	root := record.Root
	if !root.Multipart() || root.Subtype != "MIXED" || root.Params["boundary"] != "q" || root.Disposition != "INLINE" {
		t.Errorf("root = %+v", root)
	}
	embedded := root.Children[1]
	if embedded.MediaType() != "message/rfc822" || embedded.Disposition != "INLINE" || embedded.Message == nil {
		t.Fatalf("embedded = %+v", embedded)
	}
	pdf := embedded.Message.Children[1]
	if pdf.Disposition != "ATTACHMENT" || pdf.DispositionParams["filename"] != `in "quotes".pdf` || pdf.Size != 400 {
		t.Errorf("pdf = %+v", pdf)
	}
	if !NewDetector(false).HasAttachment(root) {
		t.Errorf("attachment inside embedded message not detected")
	}
}

func TestRecordWithoutUIDUsesSequenceNumber(t *testing.T) {
	s := NewScanner(NewDetector(false), nil)
	s.Feed(`* 4 FETCH (BODYSTRUCTURE (("TEXT" "PLAIN" NIL NIL NIL "7BIT" 3 1 NIL NIL NIL NIL)("APPLICATION" "PDF" NIL NIL NIL "BASE64" 9 NIL NIL NIL NIL) "MIXED" NIL NIL NIL NIL))`)
	if got := s.Candidates(); !reflect.DeepEqual(got, []uint32{4}) {
		t.Errorf("Candidates() = %v, want [4]", got)
	}
}

func TestClosed(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{in: `* 1 FETCH (UID 1)`, want: true},
		{in: `* 1 FETCH (UID 1`, want: false},
		{in: `* 1 FETCH (X ")")`, want: true},
		{in: `* 1 FETCH (X ")"`, want: false},
		{in: `* 1 FETCH (X "\")"`, want: false},
		{in: `* 1 FETCH (X {3}`, want: false},
		{in: `* 1 FETCH (X {3}a))`, want: false},
		{in: `* 1 FETCH (X {3}a))))`, want: true},
		{in: `* 1 EXISTS`, want: false},
	}

	for _, tt := range tests {
		if got := closed(tt.in); got != tt.want {
			t.Errorf("closed(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromIMAP(t *testing.T) {
	bs := &imapv2.BodyStructureMultiPart{
		Subtype: "mixed",
		Children: []imapv2.BodyStructure{
			&imapv2.BodyStructureSinglePart{Type: "text", Subtype: "plain", Encoding: "7bit", Size: 10},
			&imapv2.BodyStructureSinglePart{
				Type:     "image",
				Subtype:  "jpeg",
				Encoding: "base64",
				Size:     2048,
				Extended: &imapv2.BodyStructureSinglePartExt{
					Disposition: &imapv2.BodyStructureDisposition{Value: "inline", Params: map[string]string{"filename": "cat.jpg"}},
				},
			},
		},
	}

	root := FromIMAP(bs)
	if root == nil || !root.Multipart() || len(root.Children) != 2 {
		t.Fatalf("FromIMAP() = %+v", root)
	}
	if root.Children[1].DispositionParams["filename"] != "cat.jpg" {
		t.Errorf("disposition params lost: %+v", root.Children[1])
	}
	if NewDetector(false).HasAttachment(root) {
		t.Errorf("inline image detected without inline image handling")
	}
	if !NewDetector(true).HasAttachment(root) {
		t.Errorf("inline image not detected with inline image handling")
	}

	single := FromIMAP(&imapv2.BodyStructureSinglePart{Type: "application", Subtype: "pdf"})
	if NewDetector(false).HasAttachment(single) {
		t.Errorf("single part message reported as candidate")
	}
}
