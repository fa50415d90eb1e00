package db

import "time"

// Типы элементов playlist-коллекции.
const (
	kindFolder = "0" // папки сортируются раньше файлов внутри родителя
	kindFile   = "1"

	TypeFolder = "folder"
	TypeFile   = "file"
)

// Folder — узел дерева каталогов. Parent ссылается на id другой папки либо
// на сентинел RootFolder; связь односторонняя, циклов нет по построению.
type Folder struct {
	ID            string    `json:"_id"`
	Type          string    `json:"type"`
	Name          string    `json:"name"`
	Parent        string    `json:"parent_folder"`
	SourceChannel int64     `json:"source_channel,omitempty"`
	AutoCreated   bool      `json:"auto_created,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FileDoc — файл в browse-дереве (проекция playlist). Hash — 6-символьный
// префикс уникального file id; пара (ChatID, Hash) уникальна.
type FileDoc struct {
	ID           string `json:"_id"`
	Type         string `json:"type"`
	ChatID       int64  `json:"chat_id"`
	MsgID        int    `json:"msg_id"`
	Hash         string `json:"hash"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	MIME         string `json:"mime_type"`
	ParentFolder string `json:"parent_folder,omitempty"`
}

// ArchiveDoc — файл в архивной коллекции files: по ней работает дедупликация
// батчей и сборка тематического индекса (TopicFolderID).
type ArchiveDoc struct {
	ChatID        int64     `json:"chat_id"`
	MsgID         int       `json:"msg_id"`
	Hash          string    `json:"hash"`
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	MIME          string    `json:"mime_type"`
	TopicFolderID string    `json:"topic_folder_id,omitempty"`
	AddedAt       time.Time `json:"added_at"`
}

// User — учётка, обновляемая при каждом взаимодействии.
type User struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

// PremiumGrant — активная подписка. Пользователь считается premium, пока
// ExpireAt строго в будущем (UTC); просроченные записи удаляются лениво и свипером.
type PremiumGrant struct {
	UserID          int64     `json:"user_id"`
	ExpireAt        time.Time `json:"expire_at"`
	GrantedAt       time.Time `json:"granted_at"`
	TransferredFrom int64     `json:"transferred_from,omitempty"`
}

// Settings — пользовательские настройки доставки и переименования.
// Пустые значения означают «не задано», дефолты подставляет GetSettings.
type Settings struct {
	ChatID       string            `json:"chat_id,omitempty"` // допускается форма "chat/topicId"
	RenameTag    string            `json:"rename_tag,omitempty"`
	Caption      string            `json:"caption,omitempty"`
	Replacements map[string]string `json:"replacements,omitempty"`
	DeleteWords  []string          `json:"delete_words,omitempty"`
	Thumbnail    string            `json:"thumbnail,omitempty"`
}

// Secret — шифртексты пользовательской сессии и бот-токена. Открытый текст
// в хранилище не попадает никогда.
type Secret struct {
	Session   string    `json:"session,omitempty"`
	BotToken  string    `json:"bot_token,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Plan — тариф подписки, управляемый владельцем (/addplan) либо окружением.
type Plan struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Stars    int    `json:"stars"`
	Duration int    `json:"duration"`
	Unit     string `json:"unit"`
}

// Listing — страница выдачи listItems: папки раньше файлов, счётчики по всему
// родителю, а не по странице.
type Listing struct {
	Folders     []Folder
	Files       []FileDoc
	HasMore     bool
	FolderCount int
	FileCount   int
	VideoCount  int
	PDFCount    int
}
