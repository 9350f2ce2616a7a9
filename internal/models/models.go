package models

import (
	"time"
)

// DefaultCategory is used when a list or item is created without a category
const DefaultCategory = "Geral"

// InvitationTTL is how long an invitation stays acceptable after it is sent
const InvitationTTL = 7 * 24 * time.Hour

// Permission represents the access level a member holds on a list
type Permission string

const (
	PermissionOwner  Permission = "owner"
	PermissionEditor Permission = "editor"
)

// Valid reports whether p is a known permission
func (p Permission) Valid() bool {
	return p == PermissionOwner || p == PermissionEditor
}

// InvitationStatus represents the lifecycle state of an invitation
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pendente"
	InvitationAccepted InvitationStatus = "aceito"
	InvitationRejected InvitationStatus = "rejeitado"
	InvitationExpired  InvitationStatus = "expirado"
)

// ListType distinguishes private lists from lists with collaborators
type ListType string

const (
	ListIndividual ListType = "individual"
	ListShared     ListType = "compartilhada"
)

// List is a shopping list document (listas/{id}). Items, members and
// invitations are embedded and always rewritten as whole collections.
type List struct {
	ID                string       `json:"id" firestore:"-" validate:"required"`
	Nome              string       `json:"nome" firestore:"nome" validate:"required,max=100"`
	Categoria         string       `json:"categoria" firestore:"categoria"`
	Cor               string       `json:"cor,omitempty" firestore:"cor"`
	CriadoPor         string       `json:"criadoPor" firestore:"criadoPor" validate:"required"`
	DataCriacao       time.Time    `json:"dataCriacao" firestore:"dataCriacao" validate:"required"`
	DataAtualizacao   time.Time    `json:"dataAtualizacao" firestore:"dataAtualizacao" validate:"required"`
	Itens             []Item       `json:"itens" firestore:"itens" validate:"dive"`
	Ativa             bool         `json:"ativa" firestore:"ativa"`
	TipoLista         ListType     `json:"tipoLista" firestore:"tipoLista" validate:"omitempty,oneof=individual compartilhada"`
	Membros           []Member     `json:"membros" firestore:"membros" validate:"dive"`
	ConvitesPendentes []Invitation `json:"convitesPendentes" firestore:"convitesPendentes" validate:"dive"`
}

// Item is a single entry embedded in a list
type Item struct {
	ID         string    `json:"id" firestore:"id" validate:"required"`
	Nome       string    `json:"nome" firestore:"nome" validate:"required,max=200"`
	Categoria  string    `json:"categoria" firestore:"categoria"`
	Quantidade int       `json:"quantidade" firestore:"quantidade" validate:"gte=0"`
	Concluido  bool      `json:"concluido" firestore:"concluido"`
	Ordem      int       `json:"ordem" firestore:"ordem" validate:"gte=0"`
	CriadoPor  string    `json:"criadoPor" firestore:"criadoPor"`
	DataAdicao time.Time `json:"dataAdicao" firestore:"dataAdicao"`
}

// Invitation is an offer of shared access sent to a user by email
type Invitation struct {
	ID                 string           `json:"id" firestore:"id" validate:"required"`
	Email              string           `json:"email" firestore:"email" validate:"required,email"`
	ListaID            string           `json:"listaId" firestore:"listaId" validate:"required"`
	NomeLista          string           `json:"nomeLista" firestore:"nomeLista"`
	ConvidadoPor       string           `json:"convidadoPor" firestore:"convidadoPor" validate:"required"`
	NomeConvidadoPor   string           `json:"nomeConvidadoPor" firestore:"nomeConvidadoPor"`
	ConvidadoUID       string           `json:"convidadoUid" firestore:"convidadoUid"`
	DataConvite        time.Time        `json:"dataConvite" firestore:"dataConvite"`
	DataExpiracao      time.Time        `json:"dataExpiracao" firestore:"dataExpiracao"`
	Status             InvitationStatus `json:"status" firestore:"status" validate:"required,oneof=pendente aceito rejeitado expirado"`
	PermissaoOferecida Permission       `json:"permissaoOferecida" firestore:"permissaoOferecida" validate:"required,oneof=owner editor"`
}

// IsExpired reports whether the invitation is past its expiration date
func (i *Invitation) IsExpired(now time.Time) bool {
	return !i.DataExpiracao.IsZero() && now.After(i.DataExpiracao)
}

// IsOpen reports whether the invitation is pending and not yet expired
func (i *Invitation) IsOpen(now time.Time) bool {
	return i.Status == InvitationPending && !i.IsExpired(now)
}

// Summary builds the denormalized entry stored in the invitee's index
func (i *Invitation) Summary() InvitationSummary {
	return InvitationSummary{
		ConviteID:          i.ID,
		ListaID:            i.ListaID,
		NomeLista:          i.NomeLista,
		ConvidadoPor:       i.ConvidadoPor,
		NomeConvidadoPor:   i.NomeConvidadoPor,
		PermissaoOferecida: i.PermissaoOferecida,
		DataConvite:        i.DataConvite,
		DataExpiracao:      i.DataExpiracao,
	}
}

// Member is an accepted collaborator on a list
type Member struct {
	UID           string     `json:"uid" firestore:"uid" validate:"required"`
	Email         string     `json:"email" firestore:"email"`
	Nome          string     `json:"nome" firestore:"nome"`
	PhotoURL      string     `json:"photoURL,omitempty" firestore:"photoURL"`
	Permissao     Permission `json:"permissao" firestore:"permissao" validate:"required,oneof=owner editor"`
	DataEntrada   time.Time  `json:"dataEntrada" firestore:"dataEntrada"`
	AdicionadoPor string     `json:"adicionadoPor" firestore:"adicionadoPor"`
}

// BasicUser is a user directory entry (usuarios/{uid})
type BasicUser struct {
	UID      string    `json:"uid" firestore:"uid" validate:"required"`
	Email    string    `json:"email" firestore:"email" validate:"required"`
	Nome     string    `json:"nome" firestore:"nome"`
	PhotoURL string    `json:"photoURL,omitempty" firestore:"photoURL"`
	CriadoEm time.Time `json:"criadoEm" firestore:"criadoEm"`
}

// InvitationSummary is one entry of a user's invitation index
type InvitationSummary struct {
	ConviteID          string     `json:"conviteId" firestore:"conviteId" validate:"required"`
	ListaID            string     `json:"listaId" firestore:"listaId" validate:"required"`
	NomeLista          string     `json:"nomeLista" firestore:"nomeLista"`
	ConvidadoPor       string     `json:"convidadoPor" firestore:"convidadoPor"`
	NomeConvidadoPor   string     `json:"nomeConvidadoPor" firestore:"nomeConvidadoPor"`
	PermissaoOferecida Permission `json:"permissaoOferecida" firestore:"permissaoOferecida"`
	DataConvite        time.Time  `json:"dataConvite" firestore:"dataConvite"`
	DataExpiracao      time.Time  `json:"dataExpiracao" firestore:"dataExpiracao"`
}

// InvitationIndex is the per-user invitation index (convites_usuario/{uid}),
// keyed by list id.
type InvitationIndex struct {
	UID      string                       `json:"uid" firestore:"-"`
	Convites map[string]InvitationSummary `json:"convites" firestore:"convites" validate:"dive"`
}

// Identity is a snapshot of the signed-in user supplied by the identity source
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// ListStats summarizes the progress of a list
type ListStats struct {
	TotalItens          int       `json:"totalItens"`
	ItensConcluidos     int       `json:"itensConcluidos"`
	ItensRestantes      int       `json:"itensRestantes"`
	PercentualConcluido int       `json:"percentualConcluido"`
	Categorias          []string  `json:"categorias"`
	UltimaAtualizacao   time.Time `json:"ultimaAtualizacao"`
}

// ItemIndex returns the position of the item with the given id, or -1
func (l *List) ItemIndex(id string) int {
	for i := range l.Itens {
		if l.Itens[i].ID == id {
			return i
		}
	}
	return -1
}

// MemberIndex returns the position of the member with the given uid, or -1
func (l *List) MemberIndex(uid string) int {
	for i := range l.Membros {
		if l.Membros[i].UID == uid {
			return i
		}
	}
	return -1
}

// HasAccess reports whether uid owns the list or is one of its members
func (l *List) HasAccess(uid string) bool {
	return l.CriadoPor == uid || l.MemberIndex(uid) >= 0
}

// Clone returns a deep copy of the list
func (l *List) Clone() *List {
	c := *l
	c.Itens = append([]Item(nil), l.Itens...)
	c.Membros = append([]Member(nil), l.Membros...)
	c.ConvitesPendentes = append([]Invitation(nil), l.ConvitesPendentes...)
	return &c
}

// Normalize replaces nil collections with empty ones and moves timestamps to UTC
func (l *List) Normalize() {
	if l.Itens == nil {
		l.Itens = []Item{}
	}
	if l.Membros == nil {
		l.Membros = []Member{}
	}
	if l.ConvitesPendentes == nil {
		l.ConvitesPendentes = []Invitation{}
	}
	if l.TipoLista == "" {
		l.TipoLista = ListIndividual
	}
	l.DataCriacao = l.DataCriacao.UTC()
	l.DataAtualizacao = l.DataAtualizacao.UTC()
	for i := range l.Itens {
		l.Itens[i].DataAdicao = l.Itens[i].DataAdicao.UTC()
	}
}

// Stats computes the progress summary of the list
func (l *List) Stats() *ListStats {
	stats := &ListStats{
		TotalItens:        len(l.Itens),
		Categorias:        []string{},
		UltimaAtualizacao: l.DataAtualizacao,
	}
	seen := make(map[string]bool)
	for _, item := range l.Itens {
		if item.Concluido {
			stats.ItensConcluidos++
		}
		if item.Categoria != "" && !seen[item.Categoria] {
			seen[item.Categoria] = true
			stats.Categorias = append(stats.Categorias, item.Categoria)
		}
	}
	stats.ItensRestantes = stats.TotalItens - stats.ItensConcluidos
	if stats.TotalItens > 0 {
		stats.PercentualConcluido = int(float64(stats.ItensConcluidos)/float64(stats.TotalItens)*100 + 0.5)
	}
	return stats
}
