package lemmy

import "fmt"

// HTTPError is a failed API call surfaced with its status code and any
// response body the server returned.
type HTTPError struct {
	WrappedError error
	Message      string
	Code         int
}

func (e HTTPError) Error() string {
	var wrappedErrMsg string
	if e.WrappedError != nil {
		wrappedErrMsg = e.WrappedError.Error()
	}
	return fmt.Sprintf("msg=%s code=%d wrapped=%s", e.Message, e.Code, wrappedErrMsg)
}

// Person is a user account on a Lemmy instance.
type Person struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	ActorID string `json:"actor_id"`
}

// Community is a posting target on a Lemmy instance.
type Community struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Title   string `json:"title"`
	ActorID string `json:"actor_id"`
}

// Post is a published link post.
type Post struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ModeratorView pairs a community with one of its moderators.
type ModeratorView struct {
	Moderator Person `json:"moderator"`
}

// PrivateMessage is a direct message body.
type PrivateMessage struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Read    bool   `json:"read"`
}

// PrivateMessageView is a direct message with its sender.
type PrivateMessageView struct {
	PrivateMessage PrivateMessage `json:"private_message"`
	Creator        Person         `json:"creator"`
}

// CreatePostOptions are the documented fields for CreatePost.
type CreatePostOptions struct {
	CommunityID int64  `json:"community_id"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Body        string `json:"body,omitempty"`
}

// CreateCommunityOptions are the documented fields for CreateCommunity.
type CreateCommunityOptions struct {
	Name                    string `json:"name"`
	Title                   string `json:"title"`
	Description             string `json:"description,omitempty"`
	Icon                    string `json:"icon,omitempty"`
	PostingRestrictedToMods bool   `json:"posting_restricted_to_mods"`
}

type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

type loginResponse struct {
	JWT string `json:"jwt"`
}

type postResponse struct {
	PostView struct {
		Post Post `json:"post"`
	} `json:"post_view"`
}

type communityResponse struct {
	CommunityView struct {
		Community Community `json:"community"`
	} `json:"community_view"`
	Moderators []ModeratorView `json:"moderators"`
}

type resolveObjectResponse struct {
	Community *struct {
		Community Community `json:"community"`
	} `json:"community"`
}

type userResponse struct {
	PersonView *struct {
		Person Person `json:"person"`
	} `json:"person_view"`
}

type privateMessagesResponse struct {
	PrivateMessages []PrivateMessageView `json:"private_messages"`
}

type privateMessageResponse struct {
	PrivateMessageView PrivateMessageView `json:"private_message_view"`
}
