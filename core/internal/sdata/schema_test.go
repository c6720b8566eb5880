package sdata

import (
	"regexp"
	"testing"
)

func TestAugmentDefaults(t *testing.T) {
	m := &Model{
		Slug: "blogPost",
		Fields: []Field{
			{Slug: "title", Type: TypeString, Required: true},
			{Slug: "handle", Type: TypeString, Required: true, Unique: true},
		},
	}
	Augment(m)

	if m.PluralSlug != "blogPosts" {
		t.Errorf("pluralSlug = %q", m.PluralSlug)
	}
	if m.Table() != "blog_posts" {
		t.Errorf("table = %q", m.Table())
	}
	if m.IDPrefix != "blo" {
		t.Errorf("idPrefix = %q", m.IDPrefix)
	}
	if m.Identifiers.Slug != "handle" {
		t.Errorf("identifiers.slug = %q", m.Identifiers.Slug)
	}
	if m.Identifiers.Name != "id" {
		t.Errorf("identifiers.name = %q", m.Identifiers.Name)
	}
	if m.Field("id") == nil || m.Field("ronin.createdAt") == nil {
		t.Error("system fields missing after augmentation")
	}
}

func TestAugmentIsIdempotent(t *testing.T) {
	m := &Model{Slug: "account", Fields: []Field{{Slug: "handle", Type: TypeString}}}
	Augment(m)
	once := len(m.Fields)
	Augment(m)
	if len(m.Fields) != once {
		t.Errorf("augmenting twice grew fields from %d to %d", once, len(m.Fields))
	}
}

func TestFindModelByEitherForm(t *testing.T) {
	s := NewSchema([]*Model{{Slug: "account"}})
	singular, err := s.FindModel("account")
	if err != nil {
		t.Fatal(err)
	}
	plural, err := s.FindModel("accounts")
	if err != nil {
		t.Fatal(err)
	}
	if singular != plural {
		t.Error("singular and plural forms resolve to different models")
	}
	if _, err := s.FindModel("nope"); err == nil {
		t.Error("expected MODEL_NOT_FOUND")
	} else if serr, ok := err.(*Error); !ok || serr.Code != ErrModelNotFound {
		t.Errorf("unexpected error %v", err)
	}
}

func TestResolveField(t *testing.T) {
	m := &Model{Slug: "account", Fields: []Field{
		{Slug: "handle", Type: TypeString},
		{Slug: "meta", Type: TypeJSON},
	}}
	Augment(m)

	ref, err := m.ResolveField("handle", "")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Selector != `"handle"` {
		t.Errorf("selector = %s", ref.Selector)
	}

	ref, err = m.ResolveField("ronin.createdAt", "accounts")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Selector != `"accounts"."ronin.createdAt"` {
		t.Errorf("selector = %s", ref.Selector)
	}

	ref, err = m.ResolveField("meta.title", "")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Selector != `json_extract("meta", '$.title')` {
		t.Errorf("selector = %s", ref.Selector)
	}

	if _, err := m.ResolveField("missing", ""); err == nil {
		t.Error("expected FIELD_NOT_FOUND")
	}
}

func TestAssociativeNaming(t *testing.T) {
	if got := AssociativeTable("account", "followers"); got != "ronin_link_account_followers" {
		t.Errorf("associative table = %q", got)
	}
}

func TestRecordIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^[a-z]{3}_[a-z0-9]{16}$`)
	for i := 0; i < 32; i++ {
		id := NewRecordID("acc")
		if !re.MatchString(id) {
			t.Fatalf("id %q does not match the contract", id)
		}
	}
}

func TestTimestampFormat(t *testing.T) {
	re := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)
	now := Now()
	if !re.MatchString(now) {
		t.Fatalf("timestamp %q does not match the contract", now)
	}
	if _, ok := ParseTime(now); !ok {
		t.Fatalf("timestamp %q does not round-trip", now)
	}
}
