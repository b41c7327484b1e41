package policy

import (
	"testing"

	"github.com/bigkaa/sregistry/internal/domain/model"
)

func user(id string, admin bool) *model.User {
	return &model.User{ID: id, Username: id, IsActive: true, IsStaff: admin}
}

func collection(private bool, owners, contributors []*model.User) *model.Collection {
	return &model.Collection{
		ID: "col-1", Name: "mycol", Private: private,
		Owners: owners, Contributors: contributors,
	}
}

func TestCanView(t *testing.T) {
	owner := user("owner", false)
	contributor := user("contributor", false)
	stranger := user("stranger", false)
	admin := user("admin", true)

	public := collection(false, []*model.User{owner}, nil)
	private := collection(true, []*model.User{owner}, []*model.User{contributor})

	tests := []struct {
		name  string
		actor *model.User
		col   *model.Collection
		want  bool
	}{
		{"публичная видна анониму", nil, public, true},
		{"публичная видна постороннему", stranger, public, true},
		{"приватная скрыта от анонима", nil, private, false},
		{"приватная скрыта от постороннего", stranger, private, false},
		{"приватная видна владельцу", owner, private, true},
		{"приватная видна участнику", contributor, private, true},
		{"приватная видна администратору", admin, private, true},
	}

	p := New(true)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.CanView(tt.actor, tt.col); got != tt.want {
				t.Errorf("CanView() = %v, хотели %v", got, tt.want)
			}
		})
	}
}

func TestCanView_ContainerUsesCollectionScope(t *testing.T) {
	owner := user("owner", false)
	private := collection(true, []*model.User{owner}, nil)
	c := &model.Container{ID: "c-1", Collection: private, Name: "app", Tag: "latest"}

	p := New(true)
	if !p.CanView(owner, c) {
		t.Error("Владелец коллекции не видит её контейнер")
	}
	if p.CanView(user("stranger", false), c) {
		t.Error("Посторонний видит контейнер приватной коллекции")
	}
}

func TestCanEdit(t *testing.T) {
	owner := user("owner", false)
	contributor := user("contributor", false)
	admin := user("admin", true)
	col := collection(true, []*model.User{owner}, []*model.User{contributor})

	p := New(true)
	if !p.CanEdit(owner, col) {
		t.Error("Владелец не может редактировать")
	}
	if p.CanEdit(contributor, col) {
		t.Error("Участник получил права редактирования")
	}
	if p.CanEdit(nil, col) {
		t.Error("Аноним получил права редактирования")
	}
	if !p.CanEdit(admin, col) {
		t.Error("Администратор не может редактировать")
	}
}

func TestCanPush_NewCollectionGate(t *testing.T) {
	alice := user("alice", false)
	admin := user("admin", true)

	allowed := New(true)
	denied := New(false)

	if !allowed.CanPush(alice, nil) {
		t.Error("Push в новую коллекцию запрещён при включённых пользовательских коллекциях")
	}
	if denied.CanPush(alice, nil) {
		t.Error("Push в новую коллекцию разрешён при выключенных пользовательских коллекциях")
	}
	// Администратора запрет не касается
	if !denied.CanPush(admin, nil) {
		t.Error("Администратору запрещён push в новую коллекцию")
	}
	if denied.CanPush(nil, nil) {
		t.Error("Анониму разрешён push")
	}
}

func TestCanPush_ExistingCollection(t *testing.T) {
	owner := user("owner", false)
	contributor := user("contributor", false)
	col := collection(false, []*model.User{owner}, []*model.User{contributor})

	p := New(true)
	if !p.CanPush(owner, col) {
		t.Error("Владелец не может пушить в свою коллекцию")
	}
	// Участник видит, но не пушит
	if p.CanPush(contributor, col) {
		t.Error("Участник получил права push")
	}
}
