package memory

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/types"
)

func TestEviction(t *testing.T) {
	m := New(2)
	for i := 0; i < 5; i++ {
		m.AddMessage("s", types.RoleUser, fmt.Sprintf("turn %d", i), nil)
	}

	turns := m.GetFullConversation("s")
	require.Len(t, turns, 4)
	assert.Equal(t, "turn 1", turns[0].Content)
	assert.Equal(t, "turn 4", turns[3].Content)
}

func TestGetConversationContext(t *testing.T) {
	m := New(10)
	assert.Empty(t, m.GetConversationContext("s", 3))

	long := strings.Repeat("a", 250)
	m.AddMessage("s", types.RoleUser, "q1", nil)
	m.AddMessage("s", types.RoleAssistant, "short answer", []string{"a.pdf"})
	m.AddMessage("s", types.RoleUser, "q2", nil)
	m.AddMessage("s", types.RoleAssistant, long, nil)

	ctx := m.GetConversationContext("s", 3)
	lines := strings.Split(ctx, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Previous Question: q1", lines[0])
	assert.Equal(t, "Previous Answer: short answer...", lines[1])
	assert.Equal(t, "Previous Answer: "+strings.Repeat("a", 200)+"...", lines[3])

	ctx = m.GetConversationContext("s", 1)
	assert.Equal(t, "Previous Question: q2\nPrevious Answer: "+strings.Repeat("a", 200)+"...", ctx)
}

func TestSessionsAreIsolated(t *testing.T) {
	m := New(10)
	m.AddMessage("a", types.RoleUser, "from a", nil)
	m.AddMessage("b", types.RoleUser, "from b", nil)

	assert.Len(t, m.GetFullConversation("a"), 1)
	assert.Equal(t, "from b", m.GetFullConversation("b")[0].Content)
	assert.Equal(t, 2, m.ActiveConversations())

	m.ClearConversation("a")
	assert.Empty(t, m.GetFullConversation("a"))
	assert.Len(t, m.GetFullConversation("b"), 1)
	assert.Equal(t, 1, m.ActiveConversations())
}

func TestGetFullConversationReturnsCopy(t *testing.T) {
	m := New(10)
	m.AddMessage("s", types.RoleAssistant, "answer", []string{"x.pdf"})

	turns := m.GetFullConversation("s")
	turns[0].Content = "changed"
	assert.Equal(t, "answer", m.GetFullConversation("s")[0].Content)
	assert.Equal(t, []string{"x.pdf"}, m.GetFullConversation("s")[0].Sources)
	assert.NotNil(t, New(1).GetFullConversation("missing"))
}

func TestConcurrentAppend(t *testing.T) {
	m := New(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.AddMessage("s", types.RoleUser, fmt.Sprint(i), nil)
			m.GetConversationContext("s", 3)
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.GetFullConversation("s"), 20)
}
