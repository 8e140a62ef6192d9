package ecolesync

import "fmt"

type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(format string, args ...any) {}

type Severity string

const (
	SeverityNormal      Severity = "normal"
	SeverityDestructive Severity = "destructive"
)

// Notification is the only thing the core ever hands to the UI layer: a
// short title, a domain-language description and a severity flag.
type Notification struct {
	Title       string
	Description string
	Severity    Severity
}

// Notifier is a pure observer: the core emits on every success or
// failure and never depends on the sink consuming events.
type Notifier interface {
	Notify(n Notification)
}

type NopNotifier struct{}

func (NopNotifier) Notify(n Notification) {}

type LogNotifier struct {
	logger Logger
}

func NewLogNotifier(logger Logger) LogNotifier {
	if logger == nil {
		logger = nopLogger{}
	}
	return LogNotifier{logger: logger}
}

func (n LogNotifier) Notify(notification Notification) {
	severity := notification.Severity
	if severity == "" {
		severity = SeverityNormal
	}
	n.logger.Printf("[%s] %s: %s", severity, notification.Title, notification.Description)
}

// Messages carries the user-facing copy for one entity type. Error
// descriptions are fixed strings; success notifications may name the
// affected record.
type Messages[R Record[R]] struct {
	FetchError  string
	CreateError string
	UpdateError string
	DeleteError string

	Created func(rec R) Notification
	Updated func(rec R) Notification
	Deleted Notification
}

func ClassMessages() Messages[Class] {
	return Messages[Class]{
		FetchError:  "Impossible de charger les classes",
		CreateError: "Impossible de créer la classe",
		UpdateError: "Impossible de modifier la classe",
		DeleteError: "Impossible de supprimer la classe",
		Created: func(c Class) Notification {
			return Notification{
				Title:       "Classe créée",
				Description: fmt.Sprintf("%s a été ajoutée avec succès", c.Name),
				Severity:    SeverityNormal,
			}
		},
		Updated: func(c Class) Notification {
			return Notification{
				Title:       "Classe modifiée",
				Description: fmt.Sprintf("%s a été mise à jour", c.Name),
				Severity:    SeverityNormal,
			}
		},
		Deleted: Notification{
			Title:       "Classe supprimée",
			Description: "La classe a été supprimée avec succès",
			Severity:    SeverityNormal,
		},
	}
}

func StudentMessages() Messages[Student] {
	return Messages[Student]{
		FetchError:  "Impossible de charger les élèves",
		CreateError: "Impossible d'inscrire l'élève",
		UpdateError: "Impossible de modifier l'élève",
		DeleteError: "Impossible de supprimer l'élève",
		Created: func(s Student) Notification {
			return Notification{
				Title:       "Élève inscrit",
				Description: fmt.Sprintf("%s %s a été inscrit avec succès", s.FirstName, s.LastName),
				Severity:    SeverityNormal,
			}
		},
		Updated: func(s Student) Notification {
			return Notification{
				Title:       "Élève modifié",
				Description: fmt.Sprintf("%s %s a été mis à jour", s.FirstName, s.LastName),
				Severity:    SeverityNormal,
			}
		},
		Deleted: Notification{
			Title:       "Élève supprimé",
			Description: "L'élève a été supprimé avec succès",
			Severity:    SeverityNormal,
		},
	}
}

func TeacherMessages() Messages[Teacher] {
	return Messages[Teacher]{
		FetchError:  "Impossible de charger les professeurs",
		CreateError: "Impossible d'inscrire le professeur",
		UpdateError: "Impossible de modifier le professeur",
		DeleteError: "Impossible de supprimer le professeur",
		Created: func(t Teacher) Notification {
			return Notification{
				Title:       "Professeur inscrit",
				Description: fmt.Sprintf("%s %s a été inscrit avec succès", t.FirstName, t.LastName),
				Severity:    SeverityNormal,
			}
		},
		Updated: func(t Teacher) Notification {
			return Notification{
				Title:       "Professeur modifié",
				Description: fmt.Sprintf("%s %s a été mis à jour", t.FirstName, t.LastName),
				Severity:    SeverityNormal,
			}
		},
		Deleted: Notification{
			Title:       "Professeur supprimé",
			Description: "Le professeur a été supprimé avec succès",
			Severity:    SeverityNormal,
		},
	}
}
