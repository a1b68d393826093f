package app

import (
	"strconv"
	"time"

	"github.com/graphql-go/graphql"

	"scrivono/api/internal/gitrepo"
	"scrivono/api/internal/guard"
	"scrivono/api/internal/search"
	"scrivono/api/internal/social"
	"scrivono/api/internal/store"
)

// Views are what resolvers hand to graphql-go. The default resolver reads the
// json tag, so only fields that need loading or hiding get a Resolve func.

type userView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	Bio            string `json:"bio"`
	AvatarSeed     string `json:"avatarSeed"`
	FollowerCount  int    `json:"followerCount"`
	FollowingCount int    `json:"followingCount"`
	CreatedAt      string `json:"createdAt"`
}

type bookView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	AuthorID    string `json:"authorId"`
	Likes       int    `json:"likes"`
	Dislikes    int    `json:"dislikes"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type chapterView struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Text          string  `json:"text"`
	Status        string  `json:"status"`
	ChapterNumber *int    `json:"chapterNumber"`
	AuthorID      string  `json:"authorId"`
	BookID        *string `json:"bookId"`
	Likes         int     `json:"likes"`
	Dislikes      int     `json:"dislikes"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

type commentView struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	AuthorID  string  `json:"authorId"`
	BookID    *string `json:"bookId"`
	ChapterID *string `json:"chapterId"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

type tagView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

type noteView struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Text      string  `json:"text"`
	BookID    string  `json:"bookId"`
	ChapterID *string `json:"chapterId"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

type bookPageView struct {
	Books   []*bookView `json:"books"`
	HasMore bool        `json:"hasMore"`
}

type chapterPageView struct {
	Chapters []*chapterView `json:"chapters"`
	HasMore  bool           `json:"hasMore"`
}

type savedChapterView struct {
	Chapter *chapterView `json:"chapter"`
	SavedAt string       `json:"savedAt"`
}

type savedPageView struct {
	Chapters []*savedChapterView `json:"chapters"`
	HasMore  bool                `json:"hasMore"`
}

type followView struct {
	LeaderID string    `json:"leaderId"`
	FollowID string    `json:"followId"`
	Leader   *userView `json:"leader"`
	Follower *userView `json:"follower"`
}

type bookReactionView struct {
	Book     *bookView `json:"book"`
	HasVoted bool      `json:"hasVoted"`
	Action   string    `json:"action"`
}

type chapterReactionView struct {
	Chapter  *chapterView `json:"chapter"`
	HasVoted bool         `json:"hasVoted"`
	Action   string       `json:"action"`
}

type commitView struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	CreatedAt string `json:"createdAt"`
}

type revisionView struct {
	Hash        string `json:"hash"`
	Message     string `json:"message"`
	Author      string `json:"author"`
	CreatedAt   string `json:"createdAt"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Text        string `json:"text"`
	Status      string `json:"status"`
}

type exportView struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url"`
	Data     string `json:"data"`
}

// millis renders timestamps as unix milliseconds, the format timeline cursors accept.
func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func newUserView(u store.User) *userView {
	return &userView{
		ID:             u.ID,
		Name:           u.Name,
		Username:       u.Username,
		Email:          u.Email,
		Bio:            u.Bio,
		AvatarSeed:     u.AvatarSeed,
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
		CreatedAt:      millis(u.CreatedAt),
	}
}

func newUserViews(users []store.User) []*userView {
	out := make([]*userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	return out
}

func newBookView(b store.Book) *bookView {
	return &bookView{
		ID:          b.ID,
		Title:       b.Title,
		Description: b.Description,
		AuthorID:    b.AuthorID,
		Likes:       b.Likes,
		Dislikes:    b.Dislikes,
		CreatedAt:   millis(b.CreatedAt),
		UpdatedAt:   millis(b.UpdatedAt),
	}
}

func newBookViews(books []store.Book) []*bookView {
	out := make([]*bookView, 0, len(books))
	for _, b := range books {
		out = append(out, newBookView(b))
	}
	return out
}

func newChapterView(c store.Chapter) *chapterView {
	return &chapterView{
		ID:            c.ID,
		Title:         c.Title,
		Description:   c.Description,
		Text:          c.Text,
		Status:        string(c.Status),
		ChapterNumber: c.ChapterNumber,
		AuthorID:      c.AuthorID,
		BookID:        c.BookID,
		Likes:         c.Likes,
		Dislikes:      c.Dislikes,
		CreatedAt:     millis(c.CreatedAt),
		UpdatedAt:     millis(c.UpdatedAt),
	}
}

func newChapterViews(chapters []store.Chapter) []*chapterView {
	out := make([]*chapterView, 0, len(chapters))
	for _, c := range chapters {
		out = append(out, newChapterView(c))
	}
	return out
}

func newCommentViews(comments []store.Comment) []*commentView {
	out := make([]*commentView, 0, len(comments))
	for _, c := range comments {
		out = append(out, newCommentView(c))
	}
	return out
}

func newCommentView(c store.Comment) *commentView {
	return &commentView{
		ID:        c.ID,
		Text:      c.Text,
		AuthorID:  c.AuthorID,
		BookID:    c.BookID,
		ChapterID: c.ChapterID,
		CreatedAt: millis(c.CreatedAt),
		UpdatedAt: millis(c.UpdatedAt),
	}
}

func newTagViews(tags []store.Tag) []*tagView {
	out := make([]*tagView, 0, len(tags))
	for _, t := range tags {
		out = append(out, &tagView{ID: t.ID, Label: t.Label, Value: t.Value})
	}
	return out
}

func newNoteView(n store.Note) *noteView {
	return &noteView{
		ID:        n.ID,
		Title:     n.Title,
		Text:      n.Text,
		BookID:    n.BookID,
		ChapterID: n.ChapterID,
		CreatedAt: millis(n.CreatedAt),
		UpdatedAt: millis(n.UpdatedAt),
	}
}

func newNoteViews(notes []store.Note) []*noteView {
	out := make([]*noteView, 0, len(notes))
	for _, n := range notes {
		out = append(out, newNoteView(n))
	}
	return out
}

func newFollowView(edge social.Edge, leader, follower store.User) *followView {
	// Counters come from the committed edge, not from the earlier reads.
	leader.FollowerCount, leader.FollowingCount = edge.Leader.FollowerCount, edge.Leader.FollowingCount
	follower.FollowerCount, follower.FollowingCount = edge.Follower.FollowerCount, edge.Follower.FollowingCount
	return &followView{
		LeaderID: edge.LeaderID,
		FollowID: edge.FollowID,
		Leader:   newUserView(leader),
		Follower: newUserView(follower),
	}
}

func newCommitViews(items []store.CommitInfo) []*commitView {
	out := make([]*commitView, 0, len(items))
	for _, c := range items {
		out = append(out, &commitView{Hash: c.Hash, Message: c.Message, Author: c.Author, CreatedAt: millis(c.CreatedAt)})
	}
	return out
}

func newRevisionView(content gitrepo.Content, info store.CommitInfo) *revisionView {
	return &revisionView{
		Hash:        info.Hash,
		Message:     info.Message,
		Author:      info.Author,
		CreatedAt:   millis(info.CreatedAt),
		Title:       content.Title,
		Description: content.Description,
		Text:        content.Text,
		Status:      content.Status,
	}
}

// objectTypes holds the schema's object types. Cyclic references are built lazily
// through FieldsThunk so every field can point at every type.
type objectTypes struct {
	user            *graphql.Object
	book            *graphql.Object
	chapter         *graphql.Object
	comment         *graphql.Object
	tag             *graphql.Object
	note            *graphql.Object
	bookPage        *graphql.Object
	chapterPage     *graphql.Object
	savedChapter    *graphql.Object
	savedPage       *graphql.Object
	follow          *graphql.Object
	bookReaction    *graphql.Object
	chapterReaction *graphql.Object
	commit          *graphql.Object
	revision        *graphql.Object
	revisionChange  *graphql.Object
	searchResult    *graphql.Object
	searchResponse  *graphql.Object
	exported        *graphql.Object
	status          *graphql.Enum
}

func nonNull(t graphql.Output) graphql.Output { return graphql.NewNonNull(t) }

func listOf(t graphql.Output) graphql.Output {
	return graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t)))
}

func (s *Service) buildTypes() *objectTypes {
	t := &objectTypes{}

	t.status = graphql.NewEnum(graphql.EnumConfig{
		Name: "StatusEnum",
		Values: graphql.EnumValueConfigMap{
			"draft":     &graphql.EnumValueConfig{Value: string(store.StatusDraft)},
			"published": &graphql.EnumValueConfig{Value: string(store.StatusPublished)},
		},
	})

	t.tag = graphql.NewObject(graphql.ObjectConfig{
		Name: "Tag",
		Fields: graphql.Fields{
			"id":    &graphql.Field{Type: nonNull(graphql.ID)},
			"label": &graphql.Field{Type: nonNull(graphql.String)},
			"value": &graphql.Field{Type: nonNull(graphql.String)},
		},
	})

	t.user = graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return graphql.Fields{
				"id":             &graphql.Field{Type: nonNull(graphql.ID)},
				"name":           &graphql.Field{Type: nonNull(graphql.String)},
				"username":       &graphql.Field{Type: nonNull(graphql.String)},
				"bio":            &graphql.Field{Type: nonNull(graphql.String)},
				"avatarSeed":     &graphql.Field{Type: nonNull(graphql.String)},
				"followerCount":  &graphql.Field{Type: nonNull(graphql.Int)},
				"followingCount": &graphql.Field{Type: nonNull(graphql.Int)},
				"createdAt":      &graphql.Field{Type: nonNull(graphql.String)},
				"email": &graphql.Field{
					Type:        graphql.String,
					Description: "Only visible to the user themself.",
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						u := p.Source.(*userView)
						if actorID, _ := guard.Actor(p.Context); actorID != u.ID {
							return nil, nil
						}
						return u.Email, nil
					},
				},
				"followers": &graphql.Field{
					Type: listOf(t.user),
					Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
						users, err := s.Followers(p.Context, p.Source.(*userView).ID)
						return newUserViews(users), err
					}),
				},
				"following": &graphql.Field{
					Type: listOf(t.user),
					Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
						users, err := s.Following(p.Context, p.Source.(*userView).ID)
						return newUserViews(users), err
					}),
				},
			}
		}),
	})

	t.comment = graphql.NewObject(graphql.ObjectConfig{
		Name: "Comment",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return graphql.Fields{
				"id":        &graphql.Field{Type: nonNull(graphql.ID)},
				"text":      &graphql.Field{Type: nonNull(graphql.String)},
				"bookId":    &graphql.Field{Type: graphql.String},
				"chapterId": &graphql.Field{Type: graphql.String},
				"createdAt": &graphql.Field{Type: nonNull(graphql.String)},
				"updatedAt": &graphql.Field{Type: nonNull(graphql.String)},
				"author":    s.authorField(t, func(src interface{}) string { return src.(*commentView).AuthorID }),
			}
		}),
	})

	t.book = graphql.NewObject(graphql.ObjectConfig{
		Name: "Book",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			bookID := func(src interface{}) string { return src.(*bookView).ID }
			return graphql.Fields{
				"id":          &graphql.Field{Type: nonNull(graphql.ID)},
				"title":       &graphql.Field{Type: nonNull(graphql.String)},
				"description": &graphql.Field{Type: nonNull(graphql.String)},
				"likes":       &graphql.Field{Type: nonNull(graphql.Int)},
				"dislikes":    &graphql.Field{Type: nonNull(graphql.Int)},
				"createdAt":   &graphql.Field{Type: nonNull(graphql.String)},
				"updatedAt":   &graphql.Field{Type: nonNull(graphql.String)},
				"author":      s.authorField(t, func(src interface{}) string { return src.(*bookView).AuthorID }),
				"chapters": &graphql.Field{
					Type: listOf(t.chapter),
					Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
						book := p.Source.(*bookView)
						chapters, err := s.store.ListChaptersByBook(p.Context, book.ID)
						if err != nil {
							return nil, err
						}
						actorID, _ := guard.Actor(p.Context)
						rel := guard.Relate(actorID, book.AuthorID)
						visible := make([]store.Chapter, 0, len(chapters))
						for _, c := range chapters {
							if guard.Can(rel, guard.ActionRead, c.Status == store.StatusPublished) {
								visible = append(visible, c)
							}
						}
						return newChapterViews(visible), nil
					}),
				},
				"comments": s.commentsField(t, store.KindBook, bookID),
				"tags":     s.tagsField(t, store.KindBook, bookID),
				"hasVoted": s.hasVotedField(store.KindBook, bookID),
			}
		}),
	})

	t.chapter = graphql.NewObject(graphql.ObjectConfig{
		Name: "Chapter",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			chapterID := func(src interface{}) string { return src.(*chapterView).ID }
			return graphql.Fields{
				"id":            &graphql.Field{Type: nonNull(graphql.ID)},
				"title":         &graphql.Field{Type: nonNull(graphql.String)},
				"description":   &graphql.Field{Type: nonNull(graphql.String)},
				"text":          &graphql.Field{Type: nonNull(graphql.String)},
				"status":        &graphql.Field{Type: nonNull(t.status)},
				"chapterNumber": &graphql.Field{Type: graphql.Int},
				"bookId":        &graphql.Field{Type: graphql.String},
				"likes":         &graphql.Field{Type: nonNull(graphql.Int)},
				"dislikes":      &graphql.Field{Type: nonNull(graphql.Int)},
				"createdAt":     &graphql.Field{Type: nonNull(graphql.String)},
				"updatedAt":     &graphql.Field{Type: nonNull(graphql.String)},
				"author":        s.authorField(t, func(src interface{}) string { return src.(*chapterView).AuthorID }),
				"book": &graphql.Field{
					Type: t.book,
					Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
						chapter := p.Source.(*chapterView)
						if chapter.BookID == nil {
							return nil, nil
						}
						book, err := s.loadBook(p.Context, *chapter.BookID)
						if err != nil {
							return nil, err
						}
						return newBookView(book), nil
					}),
				},
				"comments": s.commentsField(t, store.KindChapter, chapterID),
				"tags":     s.tagsField(t, store.KindChapter, chapterID),
				"hasVoted": s.hasVotedField(store.KindChapter, chapterID),
			}
		}),
	})

	t.note = graphql.NewObject(graphql.ObjectConfig{
		Name: "Note",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: nonNull(graphql.ID)},
			"title":     &graphql.Field{Type: nonNull(graphql.String)},
			"text":      &graphql.Field{Type: nonNull(graphql.String)},
			"bookId":    &graphql.Field{Type: nonNull(graphql.String)},
			"chapterId": &graphql.Field{Type: graphql.String},
			"createdAt": &graphql.Field{Type: nonNull(graphql.String)},
			"updatedAt": &graphql.Field{Type: nonNull(graphql.String)},
		},
	})

	t.bookPage = graphql.NewObject(graphql.ObjectConfig{
		Name: "PaginatedTimelineBooks",
		Fields: graphql.Fields{
			"books":   &graphql.Field{Type: listOf(t.book)},
			"hasMore": &graphql.Field{Type: nonNull(graphql.Boolean)},
		},
	})
	t.chapterPage = graphql.NewObject(graphql.ObjectConfig{
		Name: "PaginatedTimelineChapters",
		Fields: graphql.Fields{
			"chapters": &graphql.Field{Type: listOf(t.chapter)},
			"hasMore":  &graphql.Field{Type: nonNull(graphql.Boolean)},
		},
	})
	t.savedChapter = graphql.NewObject(graphql.ObjectConfig{
		Name: "ReadLater",
		Fields: graphql.Fields{
			"chapter": &graphql.Field{Type: nonNull(t.chapter)},
			"savedAt": &graphql.Field{Type: nonNull(graphql.String)},
		},
	})
	t.savedPage = graphql.NewObject(graphql.ObjectConfig{
		Name: "PaginatedReadLater",
		Fields: graphql.Fields{
			"chapters": &graphql.Field{Type: listOf(t.savedChapter)},
			"hasMore":  &graphql.Field{Type: nonNull(graphql.Boolean)},
		},
	})

	t.follow = graphql.NewObject(graphql.ObjectConfig{
		Name: "Follow",
		Fields: graphql.Fields{
			"leaderId": &graphql.Field{Type: nonNull(graphql.ID)},
			"followId": &graphql.Field{Type: nonNull(graphql.ID)},
			"leader":   &graphql.Field{Type: nonNull(t.user)},
			"follower": &graphql.Field{Type: nonNull(t.user)},
		},
	})

	t.bookReaction = graphql.NewObject(graphql.ObjectConfig{
		Name: "BookReactionResponse",
		Fields: graphql.Fields{
			"book":     &graphql.Field{Type: nonNull(t.book)},
			"hasVoted": &graphql.Field{Type: nonNull(graphql.Boolean)},
			"action":   &graphql.Field{Type: nonNull(graphql.String)},
		},
	})
	t.chapterReaction = graphql.NewObject(graphql.ObjectConfig{
		Name: "ChapterReactionResponse",
		Fields: graphql.Fields{
			"chapter":  &graphql.Field{Type: nonNull(t.chapter)},
			"hasVoted": &graphql.Field{Type: nonNull(graphql.Boolean)},
			"action":   &graphql.Field{Type: nonNull(graphql.String)},
		},
	})

	t.commit = graphql.NewObject(graphql.ObjectConfig{Name: "ChapterCommit", Fields: commitFields()})
	revisionFields := commitFields()
	revisionFields["title"] = &graphql.Field{Type: nonNull(graphql.String)}
	revisionFields["description"] = &graphql.Field{Type: nonNull(graphql.String)}
	revisionFields["text"] = &graphql.Field{Type: nonNull(graphql.String)}
	revisionFields["status"] = &graphql.Field{Type: nonNull(t.status)}
	t.revision = graphql.NewObject(graphql.ObjectConfig{Name: "ChapterRevision", Fields: revisionFields})
	t.revisionChange = graphql.NewObject(graphql.ObjectConfig{
		Name: "RevisionChange",
		Fields: graphql.Fields{
			"field":  &graphql.Field{Type: nonNull(graphql.String)},
			"before": &graphql.Field{Type: nonNull(graphql.String)},
			"after":  &graphql.Field{Type: nonNull(graphql.String)},
		},
	})

	t.searchResult = graphql.NewObject(graphql.ObjectConfig{
		Name: "SearchResult",
		Fields: graphql.Fields{
			"type":     &graphql.Field{Type: nonNull(graphql.String)},
			"id":       &graphql.Field{Type: nonNull(graphql.ID)},
			"title":    &graphql.Field{Type: nonNull(graphql.String)},
			"snippet":  &graphql.Field{Type: nonNull(graphql.String)},
			"authorId": &graphql.Field{Type: nonNull(graphql.String)},
			"bookId":   &graphql.Field{Type: graphql.String},
			"status":   &graphql.Field{Type: graphql.String},
		},
	})
	t.searchResponse = graphql.NewObject(graphql.ObjectConfig{
		Name: "SearchResponse",
		Fields: graphql.Fields{
			"results": &graphql.Field{
				Type: listOf(t.searchResult),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					resp := p.Source.(*search.Response)
					out := make([]*search.Result, 0, len(resp.Results))
					for i := range resp.Results {
						out = append(out, &resp.Results[i])
					}
					return out, nil
				},
			},
			"total": &graphql.Field{Type: nonNull(graphql.Int)},
			"query": &graphql.Field{Type: nonNull(graphql.String)},
		},
	})

	t.exported = graphql.NewObject(graphql.ObjectConfig{
		Name: "ExportedBook",
		Fields: graphql.Fields{
			"filename": &graphql.Field{Type: nonNull(graphql.String)},
			"mimeType": &graphql.Field{Type: nonNull(graphql.String)},
			"url": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return optionalString(p.Source.(*exportView).URL), nil
				},
			},
			"data": &graphql.Field{
				Type:        graphql.String,
				Description: "Base64 document when object storage is not configured.",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return optionalString(p.Source.(*exportView).Data), nil
				},
			},
		},
	})

	return t
}

func commitFields() graphql.Fields {
	return graphql.Fields{
		"hash":      &graphql.Field{Type: nonNull(graphql.String)},
		"message":   &graphql.Field{Type: nonNull(graphql.String)},
		"author":    &graphql.Field{Type: nonNull(graphql.String)},
		"createdAt": &graphql.Field{Type: nonNull(graphql.String)},
	}
}

func optionalString(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func (s *Service) authorField(t *objectTypes, authorID func(interface{}) string) *graphql.Field {
	return &graphql.Field{
		Type: nonNull(t.user),
		Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
			user, err := s.UserByID(p.Context, authorID(p.Source))
			if err != nil {
				return nil, err
			}
			return newUserView(user), nil
		}),
	}
}

func (s *Service) commentsField(t *objectTypes, kind store.ContentKind, targetID func(interface{}) string) *graphql.Field {
	return &graphql.Field{
		Type: listOf(t.comment),
		Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
			comments, err := s.Comments(p.Context, kind, targetID(p.Source))
			return newCommentViews(comments), err
		}),
	}
}

func (s *Service) tagsField(t *objectTypes, kind store.ContentKind, targetID func(interface{}) string) *graphql.Field {
	return &graphql.Field{
		Type: listOf(t.tag),
		Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
			tags, err := s.Tags(p.Context, kind, targetID(p.Source))
			return newTagViews(tags), err
		}),
	}
}

func (s *Service) hasVotedField(kind store.ContentKind, targetID func(interface{}) string) *graphql.Field {
	return &graphql.Field{
		Type: nonNull(graphql.Boolean),
		Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
			return s.HasVoted(p.Context, kind, targetID(p.Source))
		}),
	}
}
