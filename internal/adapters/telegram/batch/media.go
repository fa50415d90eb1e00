package batch

// Извлечение медиа из сообщения и выбор способа отправки. Telegram хранит
// видео и аудио как документы с атрибутами, поэтому класс определяется по
// атрибутам и добивается эвристикой по расширению.

import (
	"path/filepath"
	"strings"

	"github.com/gotd/td/tg"
)

// Kind — способ отправки скачанного файла.
type Kind int

const (
	KindDocument Kind = iota
	KindVideo
	KindAudio
	KindPhoto
	KindVoice
	KindVideoNote
	KindSticker
)

var videoExts = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".avi": {}, ".mov": {}, ".wmv": {},
	".flv": {}, ".webm": {}, ".m4v": {}, ".3gp": {},
}

var audioExts = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".flac": {}, ".aac": {}, ".ogg": {},
	".wma": {}, ".m4a": {}, ".opus": {},
}

// Fetched — медиа, извлечённое из сообщения источника.
type Fetched struct {
	Doc     *tg.Document
	Photo   *tg.Photo
	Name    string // имя файла из атрибутов, может быть пустым
	Size    int64
	Caption string
}

// ExtractFetched разворачивает медиа сообщения. false — скачивать нечего.
func ExtractFetched(msg *tg.Message) (*Fetched, bool) {
	switch media := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return nil, false
		}
		f := &Fetched{Doc: doc, Size: doc.Size, Caption: msg.Message}
		for _, attr := range doc.Attributes {
			if fn, isName := attr.(*tg.DocumentAttributeFilename); isName {
				f.Name = fn.FileName
			}
		}
		return f, true
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil, false
		}
		f := &Fetched{Photo: photo, Caption: msg.Message}
		if _, size := largestPhotoSize(photo); size > 0 {
			f.Size = int64(size)
		}
		return f, true
	default:
		return nil, false
	}
}

// Location строит источник скачивания.
func (f *Fetched) Location() tg.InputFileLocationClass {
	if f.Doc != nil {
		return &tg.InputDocumentFileLocation{
			ID:            f.Doc.ID,
			AccessHash:    f.Doc.AccessHash,
			FileReference: f.Doc.FileReference,
		}
	}
	thumbType, _ := largestPhotoSize(f.Photo)
	return &tg.InputPhotoFileLocation{
		ID:            f.Photo.ID,
		AccessHash:    f.Photo.AccessHash,
		FileReference: f.Photo.FileReference,
		ThumbSize:     thumbType,
	}
}

func largestPhotoSize(photo *tg.Photo) (string, int) {
	bestType := ""
	bestSize := 0
	for _, s := range photo.Sizes {
		if size, ok := s.(*tg.PhotoSize); ok && size.Size > bestSize {
			bestType = size.Type
			bestSize = size.Size
		}
	}
	return bestType, bestSize
}

// UploadKind выбирает способ отправки по атрибутам источника и расширению
// итогового имени.
func (f *Fetched) UploadKind(filename string) Kind {
	if f.Photo != nil {
		return KindPhoto
	}

	var (
		isVideo, isRound, isAudio, isVoice, isSticker bool
	)
	for _, attr := range f.Doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			isVideo = true
			isRound = a.RoundMessage
		case *tg.DocumentAttributeAudio:
			isAudio = true
			isVoice = a.Voice
		case *tg.DocumentAttributeSticker:
			isSticker = true
		}
	}

	switch {
	case isSticker:
		return KindSticker
	case isRound:
		return KindVideoNote
	case isVoice:
		return KindVoice
	case isVideo:
		return KindVideo
	case isAudio:
		return KindAudio
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := videoExts[ext]; ok {
		return KindVideo
	}
	if _, ok := audioExts[ext]; ok {
		return KindAudio
	}
	return KindDocument
}
