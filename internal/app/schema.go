package app

import (
	"context"
	"fmt"
	"log"

	"github.com/graphql-go/graphql"

	"scrivono/api/internal/authpw"
	"scrivono/api/internal/domain"
	"scrivono/api/internal/search"
	"scrivono/api/internal/social"
	"scrivono/api/internal/store"
)

// resolve maps service errors to GraphQL errors carrying extensions.code.
func resolve(fn graphql.FieldResolveFn) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		out, err := fn(p)
		if err != nil {
			return nil, toGraphQLError(p.Info.FieldName, err)
		}
		return out, nil
	}
}

func argString(p graphql.ResolveParams, name string) string {
	value, _ := p.Args[name].(string)
	return value
}

func argInt(p graphql.ResolveParams, name string, fallback int) int {
	if value, ok := p.Args[name].(int); ok {
		return value
	}
	return fallback
}

func argInput(p graphql.ResolveParams, name string) map[string]interface{} {
	value, _ := p.Args[name].(map[string]interface{})
	return value
}

func inputString(input map[string]interface{}, key string) string {
	value, _ := input[key].(string)
	return value
}

func inputOptional(input map[string]interface{}, key string) *string {
	value, ok := input[key].(string)
	if !ok {
		return nil
	}
	return &value
}

func inputTags(input map[string]interface{}) []TagInput {
	raw, _ := input["tags"].([]interface{})
	tags := make([]TagInput, 0, len(raw))
	for _, item := range raw {
		tag, _ := item.(map[string]interface{})
		tags = append(tags, TagInput{Label: inputString(tag, "label"), Value: inputString(tag, "value")})
	}
	return tags
}

func required(t graphql.Input) *graphql.ArgumentConfig {
	return &graphql.ArgumentConfig{Type: graphql.NewNonNull(t)}
}

func optional(t graphql.Input) *graphql.ArgumentConfig {
	return &graphql.ArgumentConfig{Type: t}
}

func inputFields(nonNullFields, nullableFields map[string]graphql.Input) graphql.InputObjectConfigFieldMap {
	fields := graphql.InputObjectConfigFieldMap{}
	for name, t := range nonNullFields {
		fields[name] = &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(t)}
	}
	for name, t := range nullableFields {
		fields[name] = &graphql.InputObjectFieldConfig{Type: t}
	}
	return fields
}

// NewSchema builds the GraphQL schema served at /graphql.
func NewSchema(s *Service) (graphql.Schema, error) {
	t := s.buildTypes()

	tagInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   "InputTags",
		Fields: inputFields(map[string]graphql.Input{"label": graphql.String, "value": graphql.String}, nil),
	})
	tagList := graphql.NewList(graphql.NewNonNull(tagInput))

	createUserInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "InputCreateUser",
		Fields: inputFields(map[string]graphql.Input{
			"email":    graphql.String,
			"username": graphql.String,
			"password": graphql.String,
		}, map[string]graphql.Input{"name": graphql.String}),
	})
	profileInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "InputUpdateProfile",
		Fields: inputFields(map[string]graphql.Input{"name": graphql.String}, map[string]graphql.Input{
			"bio":        graphql.String,
			"avatarSeed": graphql.String,
		}),
	})
	bookInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "InputNewBook",
		Fields: inputFields(map[string]graphql.Input{"title": graphql.String}, map[string]graphql.Input{
			"description": graphql.String,
			"tags":        tagList,
		}),
	})
	chapterInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "InputCreateChapter",
		Fields: inputFields(map[string]graphql.Input{"title": graphql.String}, map[string]graphql.Input{
			"description": graphql.String,
			"text":        graphql.String,
			"bookId":      graphql.String,
			"tags":        tagList,
		}),
	})
	chapterUpdateInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "InputUpdateChapter",
		Fields: inputFields(map[string]graphql.Input{"chapterId": graphql.String}, map[string]graphql.Input{
			"title":       graphql.String,
			"description": graphql.String,
			"text":        graphql.String,
			"bookId":      graphql.String,
		}),
	})
	commentInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "InputCreateComment",
		Fields: inputFields(map[string]graphql.Input{"text": graphql.String}, map[string]graphql.Input{
			"bookId":    graphql.String,
			"chapterId": graphql.String,
		}),
	})
	tagsInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "InputCreateTags",
		Fields: inputFields(map[string]graphql.Input{"tags": tagList}, map[string]graphql.Input{
			"bookId":    graphql.String,
			"chapterId": graphql.String,
		}),
	})
	noteInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "InputNoteData",
		Fields: inputFields(map[string]graphql.Input{
			"title":  graphql.String,
			"bookId": graphql.String,
		}, map[string]graphql.Input{
			"text":      graphql.String,
			"chapterId": graphql.String,
		}),
	})
	followInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   "InputFollow",
		Fields: inputFields(map[string]graphql.Input{"followId": graphql.String}, nil),
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"currentUser": &graphql.Field{
				Type: nonNull(t.user),
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					user, err := s.CurrentUser(p.Context)
					if err != nil {
						return nil, err
					}
					return newUserView(user), nil
				}),
			},
			"allUsers": &graphql.Field{
				Type: listOf(t.user),
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					users, err := s.AllUsers(p.Context)
					return newUserViews(users), err
				}),
			},
			"getUser": &graphql.Field{
				Type: nonNull(t.user),
				Args: graphql.FieldConfigArgument{"username": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					user, err := s.GetUser(p.Context, argString(p, "username"))
					if err != nil {
						return nil, err
					}
					return newUserView(user), nil
				}),
			},
			"getTimelineBooks": &graphql.Field{
				Type: nonNull(t.bookPage),
				Args: graphql.FieldConfigArgument{"take": required(graphql.Int), "cursor": optional(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					page, err := s.TimelineBooks(p.Context, argInt(p, "take", 10), argString(p, "cursor"))
					if err != nil {
						return nil, err
					}
					return &bookPageView{Books: newBookViews(page.Books), HasMore: page.HasMore}, nil
				}),
			},
			"getBook": &graphql.Field{
				Type: nonNull(t.book),
				Args: graphql.FieldConfigArgument{"bookId": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					book, err := s.GetBook(p.Context, argString(p, "bookId"))
					if err != nil {
						return nil, err
					}
					return newBookView(book), nil
				}),
			},
			"getBooks": &graphql.Field{
				Type: listOf(t.book),
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					books, err := s.Books(p.Context)
					return newBookViews(books), err
				}),
			},
			"getTimelineChapters": &graphql.Field{
				Type: nonNull(t.chapterPage),
				Args: graphql.FieldConfigArgument{"take": required(graphql.Int), "cursor": optional(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					page, err := s.TimelineChapters(p.Context, argInt(p, "take", 10), argString(p, "cursor"))
					if err != nil {
						return nil, err
					}
					return &chapterPageView{Chapters: newChapterViews(page.Chapters), HasMore: page.HasMore}, nil
				}),
			},
			"getChaptersFromBook": &graphql.Field{
				Type: listOf(t.chapter),
				Args: graphql.FieldConfigArgument{"bookId": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					chapters, err := s.ChaptersFromBook(p.Context, argString(p, "bookId"))
					return newChapterViews(chapters), err
				}),
			},
			"getChapter": &graphql.Field{
				Type: nonNull(t.chapter),
				Args: graphql.FieldConfigArgument{"chapterId": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					chapter, err := s.GetChapter(p.Context, argString(p, "chapterId"))
					if err != nil {
						return nil, err
					}
					return newChapterView(chapter), nil
				}),
			},
			"getChaptersFromUser": &graphql.Field{
				Type: listOf(t.chapter),
				Args: graphql.FieldConfigArgument{"username": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					chapters, err := s.ChaptersFromUser(p.Context, argString(p, "username"))
					return newChapterViews(chapters), err
				}),
			},
			"getAllSavedChapter": &graphql.Field{
				Type: nonNull(t.savedPage),
				Args: graphql.FieldConfigArgument{"take": required(graphql.Int), "offset": required(graphql.Int)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					page, err := s.SavedChapters(p.Context, argInt(p, "take", 10), argInt(p, "offset", 0))
					if err != nil {
						return nil, err
					}
					out := &savedPageView{Chapters: make([]*savedChapterView, 0, len(page.Items)), HasMore: page.HasMore}
					for _, item := range page.Items {
						out.Chapters = append(out.Chapters, &savedChapterView{
							Chapter: newChapterView(item.Chapter),
							SavedAt: millis(item.SavedAt),
						})
					}
					return out, nil
				}),
			},
			"getNote": &graphql.Field{
				Type: nonNull(t.note),
				Args: graphql.FieldConfigArgument{"noteId": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					note, err := s.GetNote(p.Context, argString(p, "noteId"))
					if err != nil {
						return nil, err
					}
					return newNoteView(note), nil
				}),
			},
			"getNotes": &graphql.Field{
				Type: listOf(t.note),
				Args: graphql.FieldConfigArgument{"bookId": required(graphql.String), "chapterId": optional(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					notes, err := s.Notes(p.Context, argString(p, "bookId"), argString(p, "chapterId"))
					return newNoteViews(notes), err
				}),
			},
			"search": &graphql.Field{
				Type: nonNull(t.searchResponse),
				Args: graphql.FieldConfigArgument{
					"query":  required(graphql.String),
					"type":   optional(graphql.String),
					"take":   optional(graphql.Int),
					"offset": optional(graphql.Int),
				},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					resp, err := s.Search(p.Context, argString(p, "query"), search.ResultType(argString(p, "type")),
						argInt(p, "take", 20), argInt(p, "offset", 0))
					if err != nil {
						return nil, err
					}
					return &resp, nil
				}),
			},
			"chapterHistory": &graphql.Field{
				Type: listOf(t.commit),
				Args: graphql.FieldConfigArgument{"chapterId": required(graphql.String), "limit": optional(graphql.Int)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					items, err := s.ChapterHistory(p.Context, argString(p, "chapterId"), argInt(p, "limit", 0))
					return newCommitViews(items), err
				}),
			},
			"chapterRevision": &graphql.Field{
				Type: nonNull(t.revision),
				Args: graphql.FieldConfigArgument{"chapterId": required(graphql.String), "hash": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					content, info, err := s.ChapterRevision(p.Context, argString(p, "chapterId"), argString(p, "hash"))
					if err != nil {
						return nil, err
					}
					return newRevisionView(content, info), nil
				}),
			},
			"compareChapterRevisions": &graphql.Field{
				Type: listOf(t.revisionChange),
				Args: graphql.FieldConfigArgument{
					"chapterId": required(graphql.String),
					"from":      required(graphql.String),
					"to":        required(graphql.String),
				},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					return s.CompareChapterRevisions(p.Context, argString(p, "chapterId"), argString(p, "from"), argString(p, "to"))
				}),
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createUser": &graphql.Field{
				Type: nonNull(t.user),
				Args: graphql.FieldConfigArgument{"userData": required(createUserInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					data := argInput(p, "userData")
					user, err := s.SignUp(p.Context, authpw.SignUpRequest{
						Name:     inputString(data, "name"),
						Email:    inputString(data, "email"),
						Username: inputString(data, "username"),
						Password: inputString(data, "password"),
					})
					if err != nil {
						return nil, err
					}
					if err := s.beginSession(p.Context, user.ID); err != nil {
						return nil, err
					}
					return newUserView(user), nil
				}),
			},
			"login": &graphql.Field{
				Type: nonNull(t.user),
				Args: graphql.FieldConfigArgument{"email": required(graphql.String), "password": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					user, err := s.SignIn(p.Context, argString(p, "email"), argString(p, "password"))
					if err != nil {
						return nil, err
					}
					if err := s.beginSession(p.Context, user.ID); err != nil {
						return nil, err
					}
					return newUserView(user), nil
				}),
			},
			"logout": &graphql.Field{
				Type: nonNull(graphql.Boolean),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return s.finishSession(p.Context), nil
				},
			},
			"updateProfile": &graphql.Field{
				Type: nonNull(t.user),
				Args: graphql.FieldConfigArgument{"data": required(profileInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					data := argInput(p, "data")
					user, err := s.UpdateProfile(p.Context, ProfileInput{
						Name:       inputString(data, "name"),
						Bio:        inputString(data, "bio"),
						AvatarSeed: inputString(data, "avatarSeed"),
					})
					if err != nil {
						return nil, err
					}
					return newUserView(user), nil
				}),
			},
			"createBook": &graphql.Field{
				Type: nonNull(t.book),
				Args: graphql.FieldConfigArgument{"data": required(bookInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					data := argInput(p, "data")
					book, err := s.CreateBook(p.Context, BookInput{
						Title:       inputString(data, "title"),
						Description: inputString(data, "description"),
						Tags:        inputTags(data),
					})
					if err != nil {
						return nil, err
					}
					return newBookView(book), nil
				}),
			},
			"deleteBook": &graphql.Field{
				Type: nonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{"bookId": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					return s.DeleteBook(p.Context, argString(p, "bookId"))
				}),
			},
			"createChapter": &graphql.Field{
				Type: nonNull(t.chapter),
				Args: graphql.FieldConfigArgument{"chapterData": required(chapterInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					data := argInput(p, "chapterData")
					chapter, err := s.CreateChapter(p.Context, ChapterInput{
						Title:       inputString(data, "title"),
						Description: inputString(data, "description"),
						Text:        inputString(data, "text"),
						BookID:      inputString(data, "bookId"),
						Tags:        inputTags(data),
					})
					if err != nil {
						return nil, err
					}
					return newChapterView(chapter), nil
				}),
			},
			"updateChapter": &graphql.Field{
				Type: nonNull(t.chapter),
				Args: graphql.FieldConfigArgument{"chapterData": required(chapterUpdateInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					data := argInput(p, "chapterData")
					chapter, err := s.UpdateChapter(p.Context, ChapterUpdate{
						ID:          inputString(data, "chapterId"),
						Title:       inputOptional(data, "title"),
						Description: inputOptional(data, "description"),
						Text:        inputOptional(data, "text"),
					})
					if err != nil {
						return nil, err
					}
					if bookID := inputString(data, "bookId"); bookID != "" && (chapter.BookID == nil || *chapter.BookID != bookID) {
						if chapter, err = s.AddChapterToBook(p.Context, chapter.ID, bookID); err != nil {
							return nil, err
						}
					}
					return newChapterView(chapter), nil
				}),
			},
			"addChapterToBook": &graphql.Field{
				Type: nonNull(t.chapter),
				Args: graphql.FieldConfigArgument{"chapterId": required(graphql.String), "bookId": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					chapter, err := s.AddChapterToBook(p.Context, argString(p, "chapterId"), argString(p, "bookId"))
					if err != nil {
						return nil, err
					}
					return newChapterView(chapter), nil
				}),
			},
			"deleteChapter": &graphql.Field{
				Type: nonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{"chapterId": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					return s.DeleteChapter(p.Context, argString(p, "chapterId"))
				}),
			},
			"changeStatus": &graphql.Field{
				Type: nonNull(t.chapter),
				Args: graphql.FieldConfigArgument{"newStatus": required(t.status), "id": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					status := store.ChapterStatus(argString(p, "newStatus"))
					chapter, err := s.ChangeStatus(p.Context, argString(p, "id"), status)
					if err != nil {
						return nil, err
					}
					return newChapterView(chapter), nil
				}),
			},
			"createComment": &graphql.Field{
				Type: nonNull(t.comment),
				Args: graphql.FieldConfigArgument{"data": required(commentInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					data := argInput(p, "data")
					comment, err := s.CreateComment(p.Context, CommentInput{
						Text:      inputString(data, "text"),
						BookID:    inputString(data, "bookId"),
						ChapterID: inputString(data, "chapterId"),
					})
					if err != nil {
						return nil, err
					}
					return newCommentView(comment), nil
				}),
			},
			"updateComment": &graphql.Field{
				Type: nonNull(t.comment),
				Args: graphql.FieldConfigArgument{"id": required(graphql.String), "text": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					comment, err := s.UpdateComment(p.Context, argString(p, "id"), argString(p, "text"))
					if err != nil {
						return nil, err
					}
					return newCommentView(comment), nil
				}),
			},
			"deleteComment": &graphql.Field{
				Type: nonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{"id": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					return s.DeleteComment(p.Context, argString(p, "id"))
				}),
			},
			"createTags": &graphql.Field{
				Type: listOf(t.tag),
				Args: graphql.FieldConfigArgument{"data": required(tagsInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					data := argInput(p, "data")
					input, err := tagsTarget(data)
					if err != nil {
						return nil, err
					}
					tags, err := s.CreateTags(p.Context, input)
					return newTagViews(tags), err
				}),
			},
			"saveChapterToReadLater": &graphql.Field{
				Type: nonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{"id": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					return s.SaveToReadLater(p.Context, argString(p, "id"))
				}),
			},
			"removeFromReadLater": &graphql.Field{
				Type: nonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{"id": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					return s.RemoveFromReadLater(p.Context, argString(p, "id"))
				}),
			},
			"createNote": &graphql.Field{
				Type: nonNull(t.note),
				Args: graphql.FieldConfigArgument{"noteData": required(noteInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					data := argInput(p, "noteData")
					note, err := s.CreateNote(p.Context, NoteInput{
						Title:     inputString(data, "title"),
						Text:      inputString(data, "text"),
						BookID:    inputString(data, "bookId"),
						ChapterID: inputString(data, "chapterId"),
					})
					if err != nil {
						return nil, err
					}
					return newNoteView(note), nil
				}),
			},
			"updateNote": &graphql.Field{
				Type: nonNull(t.note),
				Args: graphql.FieldConfigArgument{
					"noteId": required(graphql.String),
					"title":  required(graphql.String),
					"text":   required(graphql.String),
				},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					note, err := s.UpdateNote(p.Context, argString(p, "noteId"), argString(p, "title"), argString(p, "text"))
					if err != nil {
						return nil, err
					}
					return newNoteView(note), nil
				}),
			},
			"deleteNote": &graphql.Field{
				Type: nonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{"noteId": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					return s.DeleteNote(p.Context, argString(p, "noteId"))
				}),
			},
			"followUser": &graphql.Field{
				Type: nonNull(t.follow),
				Args: graphql.FieldConfigArgument{"data": required(followInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					leaderID := inputString(argInput(p, "data"), "followId")
					edge, err := s.FollowUser(p.Context, leaderID)
					if err != nil {
						return nil, err
					}
					return s.followView(p.Context, edge)
				}),
			},
			"unfollowUser": &graphql.Field{
				Type: nonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{"data": required(followInput)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					return s.UnfollowUser(p.Context, inputString(argInput(p, "data"), "followId"))
				}),
			},
			"reactToBook": &graphql.Field{
				Type: nonNull(t.bookReaction),
				Args: graphql.FieldConfigArgument{"id": required(graphql.String), "value": required(graphql.Int)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					out, err := s.React(p.Context, store.KindBook, argString(p, "id"), argInt(p, "value", 0))
					if err != nil {
						return nil, err
					}
					return &bookReactionView{Book: newBookView(out.Book), HasVoted: out.HasVoted, Action: out.Action.String()}, nil
				}),
			},
			"reactToChapter": &graphql.Field{
				Type: nonNull(t.chapterReaction),
				Args: graphql.FieldConfigArgument{"id": required(graphql.String), "value": required(graphql.Int)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					out, err := s.React(p.Context, store.KindChapter, argString(p, "id"), argInt(p, "value", 0))
					if err != nil {
						return nil, err
					}
					return &chapterReactionView{Chapter: newChapterView(out.Chapter), HasVoted: out.HasVoted, Action: out.Action.String()}, nil
				}),
			},
			"exportBook": &graphql.Field{
				Type: nonNull(t.exported),
				Args: graphql.FieldConfigArgument{"bookId": required(graphql.String), "format": required(graphql.String)},
				Resolve: resolve(func(p graphql.ResolveParams) (interface{}, error) {
					out, err := s.ExportBook(p.Context, argString(p, "bookId"), argString(p, "format"))
					if err != nil {
						return nil, err
					}
					return &exportView{Filename: out.Filename, MimeType: out.MimeType, URL: out.URL, Data: out.Data}, nil
				}),
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("build graphql schema: %w", err)
	}
	return schema, nil
}

func tagsTarget(data map[string]interface{}) (TagsInput, error) {
	bookID, chapterID := inputString(data, "bookId"), inputString(data, "chapterId")
	input := TagsInput{Tags: inputTags(data)}
	switch {
	case bookID != "" && chapterID == "":
		input.Kind, input.TargetID = store.KindBook, bookID
	case chapterID != "" && bookID == "":
		input.Kind, input.TargetID = store.KindChapter, chapterID
	default:
		return TagsInput{}, domain.Validation("Tags need either a book or a chapter.")
	}
	return input, nil
}

func (s *Service) followView(ctx context.Context, edge social.Edge) (*followView, error) {
	leader, err := s.UserByID(ctx, edge.LeaderID)
	if err != nil {
		return nil, err
	}
	follower, err := s.UserByID(ctx, edge.FollowID)
	if err != nil {
		return nil, err
	}
	return newFollowView(edge, leader, follower), nil
}

// beginSession starts a session and hands the cookie to the HTTP layer.
func (s *Service) beginSession(ctx context.Context, userID string) error {
	value, err := s.StartSession(ctx, userID)
	if err != nil {
		return err
	}
	if jar := cookieJarFrom(ctx); jar != nil {
		jar.issue(value)
	}
	return nil
}

// finishSession reports false when the session store could not drop the session.
func (s *Service) finishSession(ctx context.Context) bool {
	jar := cookieJarFrom(ctx)
	if jar == nil {
		return true
	}
	jar.expire()
	if jar.incoming == "" {
		return true
	}
	if err := s.EndSession(ctx, jar.incoming); err != nil {
		log.Printf("session: destroy: %v", err)
		return false
	}
	return true
}
